package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"missionctl/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.Store using SQLite. Creation writes fire
// triggers on the bus, so every writer re-enters the routing pipeline the
// same way, so the worker's reply message reaches the router like any other.
type SQLiteStore struct {
	db     *sql.DB
	bus    domain.MessageBus
	logger *slog.Logger
}

// New opens (or creates) the database at dbPath and runs migrations.
// bus may be nil; creation triggers are then skipped.
func New(dbPath string, msgBus domain.MessageBus, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, bus: msgBus, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                  TEXT PRIMARY KEY,
		conversation_id     TEXT NOT NULL,
		text                TEXT NOT NULL,
		sender              TEXT NOT NULL,
		sender_type         TEXT NOT NULL,
		source              TEXT NOT NULL,
		channel             TEXT NOT NULL,
		chat_id             TEXT NOT NULL DEFAULT '',
		reply_to_id         TEXT NOT NULL DEFAULT '',
		created_at          DATETIME NOT NULL,
		needs_fred_reply    INTEGER NOT NULL DEFAULT 0,
		forward_to_telegram INTEGER NOT NULL DEFAULT 0,
		forward_set         INTEGER NOT NULL DEFAULT 0,
		for_antigravity     INTEGER NOT NULL DEFAULT 0,
		handled_by_fred     INTEGER NOT NULL DEFAULT 0,
		response_posted     INTEGER NOT NULL DEFAULT 0,
		processing          INTEGER NOT NULL DEFAULT 0,
		attempts            INTEGER NOT NULL DEFAULT 0,
		error               TEXT NOT NULL DEFAULT '',
		last_attempt_at     DATETIME,
		claim_expires_at    DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_inbound ON messages(channel, sender_type, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_claims ON messages(processing, claim_expires_at);

	CREATE TABLE IF NOT EXISTS jobs (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		message_id      TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		status          TEXT NOT NULL,
		priority        INTEGER NOT NULL DEFAULT 5,
		attempts        INTEGER NOT NULL DEFAULT 0,
		created_at      DATETIME NOT NULL,
		started_at      DATETIME,
		finished_at     DATETIME,
		error           TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);

	CREATE TABLE IF NOT EXISTS channel_config (
		key        TEXT PRIMARY KEY,
		chat_id    TEXT NOT NULL,
		chat_title TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

const messageColumns = `id, conversation_id, text, sender, sender_type, source, channel,
	chat_id, reply_to_id, created_at,
	needs_fred_reply, forward_to_telegram, forward_set, for_antigravity,
	handled_by_fred, response_posted, processing, attempts, error,
	last_attempt_at, claim_expires_at`

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ConversationID == "" {
		msg.ConversationID = domain.DefaultConversationID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Text, msg.Sender, string(msg.SenderType),
		msg.Source, msg.Channel, msg.ChatID, msg.ReplyToID, msg.CreatedAt,
		msg.Routing.NeedsFredReply, msg.Routing.ForwardToTelegram,
		msg.Routing.ForwardSet, msg.Routing.ForAntigravity,
		msg.State.HandledByFred, msg.State.ResponsePosted, msg.State.Processing,
		msg.State.Attempts, msg.State.Error,
		msg.State.LastAttemptAt, msg.State.ClaimExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if s.bus != nil {
		s.bus.PublishMessage(*msg)
	}
	return nil
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE conversation_id = ? ORDER BY created_at ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

// ClaimMessage is the claim transaction: read, check, lock, all inside one
// tx. At most one caller proceeds past it for a given message.
func (s *SQLiteStore) ClaimMessage(ctx context.Context, id string, ttl time.Duration) (*domain.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read message for claim: %w", err)
	}

	if msg.State.Processing || msg.State.HandledByFred {
		return nil, domain.ErrAlreadyHandled
	}

	now := time.Now().UTC()
	expires := now.Add(ttl)
	_, err = tx.ExecContext(ctx,
		`UPDATE messages
		    SET processing = 1,
		        attempts = attempts + 1,
		        last_attempt_at = ?,
		        claim_expires_at = ?
		  WHERE id = ?`,
		now, expires, id)
	if err != nil {
		return nil, fmt.Errorf("lock message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return msg, nil
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, id string, claimErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages
		    SET processing = 0, claim_expires_at = NULL, error = ?
		  WHERE id = ?`,
		claimErr, id)
	return err
}

func (s *SQLiteStore) CompleteMessage(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages
		    SET handled_by_fred = 1,
		        response_posted = 1,
		        processing = 0,
		        claim_expires_at = NULL,
		        error = ''
		  WHERE id = ?`,
		id)
	return err
}

func (s *SQLiteStore) ExpiredClaims(ctx context.Context, now time.Time) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE processing = 1 AND claim_expires_at IS NOT NULL AND claim_expires_at < ?`,
		now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	var senderType string
	var lastAttemptAt, claimExpiresAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.ConversationID, &m.Text, &m.Sender, &senderType,
		&m.Source, &m.Channel, &m.ChatID, &m.ReplyToID, &m.CreatedAt,
		&m.Routing.NeedsFredReply, &m.Routing.ForwardToTelegram,
		&m.Routing.ForwardSet, &m.Routing.ForAntigravity,
		&m.State.HandledByFred, &m.State.ResponsePosted, &m.State.Processing,
		&m.State.Attempts, &m.State.Error,
		&lastAttemptAt, &claimExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	m.SenderType = domain.SenderType(senderType)
	if lastAttemptAt.Valid {
		m.State.LastAttemptAt = &lastAttemptAt.Time
	}
	if claimExpiresAt.Valid {
		m.State.ClaimExpiresAt = &claimExpiresAt.Time
	}
	return &m, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
