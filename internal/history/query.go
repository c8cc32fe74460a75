package history

import (
	"context"
	"time"

	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/session"
	"github.com/nhle/otp-forwarder/internal/source"
)

// Query runs one-shot historical range fetches against the source. It
// shares the session manager with the poll loop (and therefore its
// single-flight login) but never touches the dedup store: history
// results are returned to the caller, not forwarded.
type Query struct {
	sessions *session.Manager
	adapter  source.Adapter
	maxSpan  time.Duration
}

// New creates a history query helper. maxSpan bounds how wide a range
// is accepted; zero or negative means 31 days.
func New(sessions *session.Manager, adapter source.Adapter, maxSpan time.Duration) *Query {
	if maxSpan <= 0 {
		maxSpan = 31 * 24 * time.Hour
	}
	return &Query{sessions: sessions, adapter: adapter, maxSpan: maxSpan}
}

// Run validates the range and fetches the messages received within it.
// Validation failures return an *source.InvalidRangeError before any
// network contact is made.
func (q *Query) Run(ctx context.Context, start, end time.Time) ([]model.Message, error) {
	if start.After(end) {
		return nil, &source.InvalidRangeError{Start: start, End: end, Reason: "start is after end"}
	}
	if end.Sub(start) > q.maxSpan {
		return nil, &source.InvalidRangeError{Start: start, End: end, Reason: "span exceeds maximum"}
	}

	handle, err := q.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	msgs, err := q.adapter.ListRange(ctx, handle, start, end)
	if source.IsAuthError(err) {
		// Stale handle; retry once with a fresh login.
		q.sessions.Invalidate(handle)
		handle, err = q.sessions.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		msgs, err = q.adapter.ListRange(ctx, handle, start, end)
	}
	if err != nil {
		return nil, err
	}

	return msgs, nil
}
