package dedup

import (
	"context"
	"time"
)

// Store remembers which message IDs have already been handed to the
// delivery queue. It is the source of truth for "already handled":
// a message vanishing from the source's visible window does not forget
// it, only pruning does.
type Store interface {
	// Has reports whether the message ID has been marked seen.
	Has(ctx context.Context, messageID string) (bool, error)

	// MarkSeen records that a message was handed to delivery at the
	// given time. Marking an already-seen ID is a no-op.
	MarkSeen(ctx context.Context, messageID string, deliveredAt time.Time) error

	// Prune removes entries marked before the cutoff so memory stays
	// bounded. Safe because the source's own visible window is bounded
	// and duplicates older than the retention span cannot reappear.
	Prune(ctx context.Context, before time.Time) error

	// Close releases any resources. A no-op for memory-backed stores.
	Close() error
}
