package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/otp-forwarder/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite
// database. It also implements dedup.Store via the seen table, so a
// restart does not re-deliver everything inside the dedup window.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// SaveMessages inserts or replaces a batch of messages.
func (s *SQLiteStore) SaveMessages(ctx context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT OR REPLACE INTO messages (
			id, sender, body, received_at, fetched_at, forwarded
		) VALUES (?, ?, ?, ?, ?, ?)`

	stmt, err := tx.PreparexContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing message upsert: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		_, err = stmt.ExecContext(ctx,
			m.ID, m.Sender, m.Body,
			m.ReceivedAt.UTC(), m.FetchedAt.UTC(), m.Forwarded,
		)
		if err != nil {
			return fmt.Errorf("upserting message %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// RecentMessages returns the newest messages first, up to limit.
func (s *SQLiteStore) RecentMessages(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 10
	}

	var msgs []model.Message
	err := s.db.SelectContext(ctx, &msgs,
		"SELECT * FROM messages ORDER BY received_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("selecting recent messages: %w", err)
	}
	return msgs, nil
}

// MessagesBetween returns archived messages received in [start, end],
// oldest first.
func (s *SQLiteStore) MessagesBetween(ctx context.Context, start, end time.Time) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.SelectContext(ctx, &msgs,
		"SELECT * FROM messages WHERE received_at BETWEEN ? AND ? ORDER BY received_at ASC",
		start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("selecting messages between %s and %s: %w",
			start.Format("2006-01-02"), end.Format("2006-01-02"), err)
	}
	return msgs, nil
}

// MarkForwarded flags a message as handed to the delivery queue.
func (s *SQLiteStore) MarkForwarded(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE messages SET forwarded = 1 WHERE id = ?", messageID)
	if err != nil {
		return fmt.Errorf("marking message %s forwarded: %w", messageID, err)
	}
	return nil
}

// ExportCSV renders the archived messages in [start, end] as CSV.
func (s *SQLiteStore) ExportCSV(ctx context.Context, start, end time.Time) (string, error) {
	msgs, err := s.MessagesBetween(ctx, start, end)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"id", "sender", "body", "received_at", "fetched_at", "forwarded"}); err != nil {
		return "", fmt.Errorf("writing CSV header: %w", err)
	}
	for _, m := range msgs {
		record := []string{
			m.ID, m.Sender, m.Body,
			m.ReceivedAt.UTC().Format(time.RFC3339),
			m.FetchedAt.UTC().Format(time.RFC3339),
			strconv.FormatBool(m.Forwarded),
		}
		if err := w.Write(record); err != nil {
			return "", fmt.Errorf("writing CSV record for %s: %w", m.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing CSV: %w", err)
	}

	return buf.String(), nil
}

// Has reports whether the message ID has been marked seen.
func (s *SQLiteStore) Has(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM seen WHERE message_id = ?)", messageID)
	if err != nil {
		return false, fmt.Errorf("checking seen %s: %w", messageID, err)
	}
	return exists, nil
}

// MarkSeen records that a message was handed to delivery.
func (s *SQLiteStore) MarkSeen(ctx context.Context, messageID string, deliveredAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen (message_id, delivered_at) VALUES (?, ?)
		 ON CONFLICT (message_id) DO NOTHING`,
		messageID, deliveredAt.UTC())
	if err != nil {
		return fmt.Errorf("marking seen %s: %w", messageID, err)
	}
	return nil
}

// Prune removes seen entries older than the cutoff.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM seen WHERE delivered_at < ?", before.UTC())
	if err != nil {
		return fmt.Errorf("pruning seen entries: %w", err)
	}
	return nil
}
