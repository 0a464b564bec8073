package store

import (
	"context"
	"database/sql"
	"time"

	"missionctl/internal/domain"
)

// UpsertChannelConfig merges the singleton destination record. The chat id
// always takes the incoming value (repeated upserts from the same chat
// converge), the title keeps its previous value when the write omits it.
func (s *SQLiteStore) UpsertChannelConfig(ctx context.Context, cfg domain.ChannelConfig) error {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_config (key, chat_id, chat_title, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   chat_id    = excluded.chat_id,
		   chat_title = CASE WHEN excluded.chat_title <> '' THEN excluded.chat_title ELSE channel_config.chat_title END,
		   updated_at = excluded.updated_at`,
		cfg.Key, cfg.ChatID, cfg.ChatTitle, cfg.UpdatedAt)
	return err
}

func (s *SQLiteStore) GetChannelConfig(ctx context.Context, key string) (*domain.ChannelConfig, error) {
	var cfg domain.ChannelConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT key, chat_id, chat_title, updated_at FROM channel_config WHERE key = ?`,
		key).Scan(&cfg.Key, &cfg.ChatID, &cfg.ChatTitle, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LatestInboundChatID is the last-resort destination fallback: the chat id
// of the most recent human message that arrived on the given channel.
func (s *SQLiteStore) LatestInboundChatID(ctx context.Context, channel string) (string, error) {
	var chatID string
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM messages
		 WHERE channel = ? AND sender_type = ? AND chat_id <> ''
		 ORDER BY created_at DESC LIMIT 1`,
		channel, string(domain.SenderHuman)).Scan(&chatID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return chatID, nil
}
