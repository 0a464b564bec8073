package channel

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"missionctl/internal/domain"
	"missionctl/internal/ingest"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel over the Bot API. Inbound updates are
// normalized and persisted, which fires the routing pipeline; outbound
// fan-outs arrive through the bus handler registered in Start.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)

	bot     *tgbotapi.BotAPI
	store   domain.Store
	adapter *ingest.Adapter
	logger  *slog.Logger
}

var _ domain.Channel = (*Telegram)(nil)

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Store     domain.Store
	Adapter   *ingest.Adapter
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	adapter := cfg.Adapter
	if adapter == nil {
		adapter = ingest.NewAdapter("")
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		store:     cfg.Store,
		adapter:   adapter,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound(domain.ChannelTelegram, func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, FormatOutbound(msg.Sender, msg.Text))
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error {
	return nil
}

// FormatOutbound renders a fan-out as Telegram HTML with the sender bolded.
func FormatOutbound(sender, text string) string {
	if sender == "" {
		sender = "system"
	}
	return fmt.Sprintf("<b>%s:</b> %s", html.EscapeString(sender), html.EscapeString(text))
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chat := update.Message.Chat
	chatID := chat.ID

	// Group chats refresh the fan-out destination before any other handling,
	// so even an unauthorized ping teaches the bot where home is.
	if chat.IsGroup() || chat.IsSuperGroup() {
		cfg := domain.ChannelConfig{
			Key:       domain.ChannelTelegram,
			ChatID:    strconv.FormatInt(chatID, 10),
			ChatTitle: chat.Title,
		}
		if err := t.store.UpsertChannelConfig(ctx, cfg); err != nil {
			t.logger.Error("cannot update telegram channel config", "chat_id", chatID, "err", err)
		}
	}

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(ctx, chatID, update.Message)
		return
	}

	sender := senderName(update.Message.From)
	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	msg := t.adapter.FromTelegram(sender, text, strconv.FormatInt(chatID, 10))
	if err := t.store.CreateMessage(ctx, msg); err != nil {
		t.logger.Error("cannot persist telegram message", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "Mission control online. Messages here join the shared conversation; Fred replies to anything that needs one.")
	case "status":
		queued, err := t.store.CountJobs(ctx, domain.JobQueued)
		if err != nil {
			t.sendMessage(chatID, "Status unavailable.")
			return
		}
		deadletter, _ := t.store.CountJobs(ctx, domain.JobDeadletter)
		t.sendMessage(chatID, fmt.Sprintf("Bot: @%s\nChat ID: %d\nQueued jobs: %d\nDeadletter: %d",
			t.bot.Self.UserName, chatID, queued, deadletter))
	case "chatid":
		t.sendMessage(chatID, fmt.Sprintf("Chat ID: %d", chatID))
	default:
		t.sendMessage(chatID, "Unknown command. Available: /start /status /chatid")
	}
}

func senderName(from *tgbotapi.User) string {
	if from.UserName != "" {
		return from.UserName
	}
	return strings.TrimSpace(from.FirstName + " " + from.LastName)
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try HTML first, on parse error fall back to plain text, retry
// transient errors with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 {
			msg.ParseMode = tgbotapi.ModeHTML
		}
		// Subsequent attempts send plain text: the markup may be malformed.

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// HTML parse error on first attempt: immediately retry as plain text.
		if attempt == 0 && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram html parse error, retrying as plain text", "err", err)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
