package store

import (
	"context"
	"time"

	"github.com/nhle/otp-forwarder/internal/model"
)

// Store is the persistence interface for the message archive. Every
// message handed to the delivery queue is archived here, which is what
// the recent/last/export operator commands read from.
type Store interface {
	// SaveMessages inserts or replaces a batch of messages.
	SaveMessages(ctx context.Context, msgs []model.Message) error

	// RecentMessages returns the newest messages first, up to limit.
	RecentMessages(ctx context.Context, limit int) ([]model.Message, error)

	// MessagesBetween returns archived messages received in
	// [start, end], oldest first.
	MessagesBetween(ctx context.Context, start, end time.Time) ([]model.Message, error)

	// MarkForwarded flags a message as handed to the delivery queue.
	MarkForwarded(ctx context.Context, messageID string) error

	// ExportCSV renders the archived messages in [start, end] as CSV.
	ExportCSV(ctx context.Context, start, end time.Time) (string, error)

	// Close closes the underlying database.
	Close() error
}
