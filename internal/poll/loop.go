package poll

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nhle/otp-forwarder/internal/backoff"
	"github.com/nhle/otp-forwarder/internal/dedup"
	"github.com/nhle/otp-forwarder/internal/deliver"
	"github.com/nhle/otp-forwarder/internal/model"
	"github.com/nhle/otp-forwarder/internal/session"
	"github.com/nhle/otp-forwarder/internal/source"
	"github.com/nhle/otp-forwarder/internal/store"
)

// State names the poll loop's position in its cycle.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateDiffing
	StateEnqueueing
	StateSleeping
	StateAuthRecovering
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateDiffing:
		return "diffing"
	case StateEnqueueing:
		return "enqueueing"
	case StateSleeping:
		return "sleeping"
	case StateAuthRecovering:
		return "auth-recovering"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Options configures the poll loop.
type Options struct {
	// Interval is the sleep between successful cycles. A little jitter
	// is added so restarts do not herd against the source.
	Interval time.Duration

	// Destinations receive one delivery task each per new message.
	Destinations []int64

	// BackoffBase and BackoffCap shape the cycle-level backoff entered
	// after repeated transient fetch failures.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// AuthRetryInterval is the slower cadence used while the session
	// manager keeps failing to authenticate. The loop never gives up.
	AuthRetryInterval time.Duration
}

// DefaultOptions returns the cadence used when a field is unset.
func DefaultOptions() Options {
	return Options{
		Interval:          8 * time.Second,
		BackoffBase:       5 * time.Second,
		BackoffCap:        2 * time.Minute,
		AuthRetryInterval: 5 * time.Minute,
	}
}

// Status is a point-in-time snapshot of the loop for operator surfaces.
type Status struct {
	State       string    `json:"state"`
	LastPollAt  time.Time `json:"last_poll_at"`
	LastError   string    `json:"last_error,omitempty"`
	Failures    int       `json:"consecutive_failures"`
	Cycles      uint64    `json:"cycles"`
	NewMessages uint64    `json:"new_messages"`
}

// Loop periodically snapshots the source's current messages, diffs them
// against the dedup store, and hands unseen ones to the delivery queue
// in chronological order.
type Loop struct {
	sessions *session.Manager
	adapter  source.Adapter
	seen     dedup.Store
	queue    *deliver.Queue
	archive  store.Store // may be nil when running without persistence
	opts     Options

	mu       sync.Mutex
	state    State
	lastPoll time.Time
	lastErr  error
	failures int
	cycles   uint64
	enqueued uint64
}

// New creates a poll loop. archive may be nil.
func New(sessions *session.Manager, adapter source.Adapter, seen dedup.Store, queue *deliver.Queue, archive store.Store, opts Options) *Loop {
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = def.BackoffCap
	}
	if opts.AuthRetryInterval <= 0 {
		opts.AuthRetryInterval = def.AuthRetryInterval
	}
	return &Loop{
		sessions: sessions,
		adapter:  adapter,
		seen:     seen,
		queue:    queue,
		archive:  archive,
		opts:     opts,
	}
}

// Run drives poll cycles until the context is canceled. Transient and
// auth failures never terminate the loop; they only change its cadence.
func (l *Loop) Run(ctx context.Context) error {
	log.Info().Dur("interval", l.opts.Interval).Ints64("destinations", l.opts.Destinations).Msg("Poll loop started")

	for {
		if ctx.Err() != nil {
			l.setState(StateIdle)
			return nil
		}

		enqueued, err := l.RunCycle(ctx)

		l.mu.Lock()
		l.cycles++
		l.lastErr = err
		if err == nil {
			l.failures = 0
			l.lastPoll = time.Now()
			l.enqueued += uint64(enqueued)
		} else {
			l.failures++
		}
		failures := l.failures
		l.mu.Unlock()

		var sleep time.Duration
		switch {
		case err == nil:
			l.setState(StateSleeping)
			sleep = l.opts.Interval + backoff.Jitter(l.opts.Interval/4)
		case source.IsAuthError(err):
			log.Error().Err(err).Msg("Authentication is failing, pausing poll cycles")
			l.setState(StateAuthRecovering)
			sleep = l.opts.AuthRetryInterval
		default:
			if source.IsDrift(err) {
				log.Error().Err(err).Msg("Source response shape changed, treating as transient")
			} else {
				log.Warn().Err(err).Int("failures", failures).Msg("Poll cycle failed")
			}
			l.setState(StateBackoff)
			sleep = backoff.Delay(l.opts.BackoffBase, l.opts.BackoffCap, failures-1)
		}

		if !backoff.Sleep(ctx, sleep) {
			l.setState(StateIdle)
			return nil
		}
	}
}

// RunCycle performs one poll: acquire, fetch, diff, enqueue, mark.
// It returns how many new messages were handed to the delivery queue.
func (l *Loop) RunCycle(ctx context.Context) (int, error) {
	l.setState(StatePolling)

	handle, err := l.sessions.Acquire(ctx)
	if err != nil {
		return 0, err
	}

	msgs, err := l.adapter.ListCurrent(ctx, handle)
	if source.IsAuthError(err) {
		// The handle went stale mid-use. Invalidate it and retry once
		// within this cycle with a fresh login.
		l.sessions.Invalidate(handle)
		handle, err = l.sessions.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		msgs, err = l.adapter.ListCurrent(ctx, handle)
	}
	if err != nil {
		return 0, err
	}

	l.setState(StateDiffing)

	// An empty snapshot is a no-op, and a shrinking one is ignored:
	// the dedup store decides what is already handled, not presence in
	// the current window.
	fresh := make([]model.Message, 0, len(msgs))
	for _, msg := range msgs {
		seen, err := l.seen.Has(ctx, msg.ID)
		if err != nil {
			return 0, fmt.Errorf("checking dedup store for %s: %w", msg.ID, err)
		}
		if !seen {
			fresh = append(fresh, msg)
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	// The source lists most-recent-first; deliver oldest-new-first so
	// recipients see passcodes in the order they arrived.
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].ReceivedAt.Before(fresh[j].ReceivedAt)
	})

	l.setState(StateEnqueueing)

	enqueued := 0
	for _, msg := range fresh {
		if l.archive != nil {
			if err := l.archive.SaveMessages(ctx, []model.Message{msg}); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to archive message")
			}
		}

		if err := l.submitAll(msg); err != nil {
			// Leave the message unmarked; the next cycle retries it.
			// Later messages would arrive out of order if we kept
			// going, so stop here.
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Could not enqueue message, deferring to next cycle")
			break
		}

		// Mark seen only after the delivery queue accepted the task.
		if err := l.seen.MarkSeen(ctx, msg.ID, time.Now()); err != nil {
			return enqueued, fmt.Errorf("marking %s seen: %w", msg.ID, err)
		}
		if l.archive != nil {
			if err := l.archive.MarkForwarded(ctx, msg.ID); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to flag message forwarded")
			}
		}
		enqueued++

		log.Info().
			Str("message_id", msg.ID).
			Str("sender", msg.Sender).
			Time("received_at", msg.ReceivedAt).
			Msg("New message enqueued")
	}

	return enqueued, nil
}

// Status returns a snapshot of the loop for the status command and
// HTTP endpoint.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := Status{
		State:       l.state.String(),
		LastPollAt:  l.lastPoll,
		Failures:    l.failures,
		Cycles:      l.cycles,
		NewMessages: l.enqueued,
	}
	if l.lastErr != nil {
		st.LastError = l.lastErr.Error()
	}
	return st
}

// submitAll creates one delivery task per destination for a message.
func (l *Loop) submitAll(msg model.Message) error {
	for _, dest := range l.opts.Destinations {
		if err := l.queue.Submit(deliver.NewTask(dest, msg)); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	if l.state != s {
		log.Debug().Str("from", l.state.String()).Str("to", s.String()).Msg("Poll state changed")
		l.state = s
	}
	l.mu.Unlock()
}
