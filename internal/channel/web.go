package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"missionctl/internal/domain"
	"missionctl/internal/ingest"
	"missionctl/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	maxBodySize       = 1 << 20 // 1MB
	webRequestTimeout = 30 * time.Second
	defaultListLimit  = 100
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins (configure CORS for production)
	},
}

// Web implements domain.Channel as the HTTP inbox: a small JSON API for
// posting and reading the conversation, plus a websocket feed that mirrors
// the message-created trigger to connected clients.
type Web struct {
	host           string
	port           int
	metricsEnabled bool

	store   domain.Store
	adapter *ingest.Adapter
	logger  *slog.Logger
	server  *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	// writeMu serializes broadcasts; gorilla connections do not allow
	// concurrent writers.
	writeMu sync.Mutex
}

var _ domain.Channel = (*Web)(nil)

type WebChannelConfig struct {
	Host           string
	Port           int
	MetricsEnabled bool
	Store          domain.Store
	Adapter        *ingest.Adapter
	Logger         *slog.Logger
}

func NewWeb(cfg WebChannelConfig) *Web {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8321
	}
	adapter := cfg.Adapter
	if adapter == nil {
		adapter = ingest.NewAdapter("")
	}
	return &Web{
		host:           cfg.Host,
		port:           cfg.Port,
		metricsEnabled: cfg.MetricsEnabled,
		store:          cfg.Store,
		adapter:        adapter,
		logger:         cfg.Logger,
		clients:        make(map[*websocket.Conn]struct{}),
	}
}

func (w *Web) Name() string { return "web" }

// Start serves the HTTP API until ctx is cancelled.
func (w *Web) Start(ctx context.Context, bus domain.MessageBus) error {
	bus.OnMessageCreated(w.broadcast)

	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           w.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.logger.Info("web channel starting", "addr", w.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (w *Web) Stop() error {
	if w.server == nil {
		return nil
	}
	w.closeClients()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}

// Routes builds the HTTP handler; exposed for tests.
func (w *Web) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/messages", w.handlePostMessage)
	r.Get("/api/messages", w.handleListMessages)
	r.Get("/api/messages/live", w.handleLive)
	r.Get("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ok"))
	})
	if w.metricsEnabled {
		r.Handle("/metrics", metrics.Collector.Handler())
	}

	return r
}

type postMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func (w *Web) handlePostMessage(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), webRequestTimeout)
	defer cancel()

	var req postMessageRequest
	body := http.MaxBytesReader(rw, r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		writeError(rw, http.StatusBadRequest, "text must not be empty")
		return
	}

	msg := w.adapter.FromWeb(req.Sender, req.Text)
	if err := w.store.CreateMessage(ctx, msg); err != nil {
		w.logger.Error("cannot persist web message", "err", err)
		writeError(rw, http.StatusInternalServerError, "cannot store message")
		return
	}

	w.logger.Info("web message received", "message_id", msg.ID, "sender", msg.Sender)
	writeJSON(rw, http.StatusCreated, msg)
}

func (w *Web) handleListMessages(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), webRequestTimeout)
	defer cancel()

	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		conversationID = domain.DefaultConversationID
	}

	msgs, err := w.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		w.logger.Error("cannot list messages", "err", err)
		writeError(rw, http.StatusInternalServerError, "cannot list messages")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(rw, http.StatusOK, msgs)
}

// handleLive upgrades to a websocket and streams every created message as
// JSON. The feed is read-only; client frames are discarded.
func (w *Web) handleLive(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	w.mu.Lock()
	w.clients[conn] = struct{}{}
	w.mu.Unlock()
	w.logger.Debug("live feed client connected", "remote", conn.RemoteAddr())

	// Drain client frames so pings are answered and closes are noticed.
	go func() {
		defer w.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast is the message-created trigger body feeding the live clients.
func (w *Web) broadcast(msg domain.Message) {
	w.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(w.clients))
	for c := range w.clients {
		conns = append(conns, c)
	}
	w.mu.Unlock()

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteJSON(msg); err != nil {
			w.logger.Debug("live feed write failed, dropping client", "err", err)
			w.dropClient(conn)
		}
	}
}

func (w *Web) dropClient(conn *websocket.Conn) {
	w.mu.Lock()
	if _, ok := w.clients[conn]; ok {
		delete(w.clients, conn)
		conn.Close()
	}
	w.mu.Unlock()
}

func (w *Web) closeClients() {
	w.mu.Lock()
	for conn := range w.clients {
		conn.Close()
	}
	w.clients = make(map[*websocket.Conn]struct{})
	w.mu.Unlock()
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}
