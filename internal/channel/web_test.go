package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"missionctl/internal/bus"
	"missionctl/internal/domain"
	"missionctl/internal/store"

	"github.com/gorilla/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWeb(t *testing.T, b domain.MessageBus) (*Web, *store.SQLiteStore) {
	t.Helper()
	st, err := store.New(":memory:", b, testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	w := NewWeb(WebChannelConfig{
		Store:          st,
		Logger:         testLogger(),
		MetricsEnabled: true,
	})
	return w, st
}

func TestWebPostMessage(t *testing.T) {
	w, st := testWeb(t, nil)
	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	body := bytes.NewBufferString(`{"sender": "Alice", "text": "hello @antigravity"}`)
	resp, err := http.Post(srv.URL+"/api/messages", "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var msg domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == "" {
		t.Error("message not assigned an ID")
	}
	if msg.Sender != "Alice" || msg.SenderType != domain.SenderHuman {
		t.Errorf("sender = %s/%s, want Alice/human", msg.Sender, msg.SenderType)
	}
	if !msg.Routing.NeedsFredReply || !msg.Routing.ForAntigravity {
		t.Errorf("routing = %+v, want reply and mention flags", msg.Routing)
	}

	stored, err := st.GetMessage(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.Text != "hello @antigravity" {
		t.Errorf("stored text = %q", stored.Text)
	}
}

func TestWebPostMessageRejectsBadInput(t *testing.T) {
	w, _ := testWeb(t, nil)
	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	cases := []struct {
		name string
		body string
	}{
		{"empty text", `{"sender": "Alice", "text": ""}`},
		{"not json", `hello`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/messages", "application/json", strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestWebListMessages(t *testing.T) {
	ctx := context.Background()
	w, st := testWeb(t, nil)
	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	for _, text := range []string{"first", "second"} {
		msg := &domain.Message{
			Text: text, Sender: "Alice",
			SenderType: domain.SenderHuman,
			Source:     domain.ChannelWeb, Channel: domain.ChannelWeb,
			CreatedAt: time.Now().UTC().Add(-time.Duration(len(text)) * time.Second),
		}
		if err := st.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
	}

	resp, err := http.Get(srv.URL + "/api/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var msgs []domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Text != "second" || msgs[1].Text != "first" {
		t.Errorf("messages out of creation order: %q, %q", msgs[0].Text, msgs[1].Text)
	}
}

func TestWebListMessagesEmpty(t *testing.T) {
	w, _ := testWeb(t, nil)
	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/messages")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var msgs []domain.Message
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("got %v, want empty array", msgs)
	}
}

func TestWebHealthAndMetrics(t *testing.T) {
	w, _ := testWeb(t, nil)
	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestWebLiveFeed(t *testing.T) {
	ctx := context.Background()
	b := bus.New(testLogger())
	defer b.Close()

	w, st := testWeb(t, b)
	b.OnMessageCreated(w.broadcast)

	srv := httptest.NewServer(w.Routes())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/messages/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := &domain.Message{
		Text: "live update", Sender: "Alice",
		SenderType: domain.SenderHuman,
		Source:     domain.ChannelWeb, Channel: domain.ChannelWeb,
	}
	if err := st.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got domain.Message
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Text != "live update" || got.ID != msg.ID {
		t.Errorf("got %+v, want the created message", got)
	}
}
