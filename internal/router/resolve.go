package router

import (
	"context"
	"log/slog"

	"missionctl/internal/domain"
)

// ResolveDestination finds the external chat id a message should be
// delivered to, trying three strategies in order: the message's own chat id,
// the singleton channel config, then the most recent inbound Telegram
// message. Returns ("", false) when no destination exists, in which case the caller
// treats that as a silent no-op.
func ResolveDestination(ctx context.Context, st domain.Store, msg domain.Message, logger *slog.Logger) (string, bool) {
	if msg.ChatID != "" {
		return msg.ChatID, true
	}

	cfg, err := st.GetChannelConfig(ctx, domain.ChannelTelegram)
	if err != nil {
		logger.Warn("channel config lookup failed", "err", err)
	} else if cfg != nil && cfg.ChatID != "" {
		return cfg.ChatID, true
	}

	chatID, err := st.LatestInboundChatID(ctx, domain.ChannelTelegram)
	if err != nil {
		logger.Warn("latest inbound lookup failed", "err", err)
		return "", false
	}
	if chatID == "" {
		return "", false
	}
	return chatID, true
}
