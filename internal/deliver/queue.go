package deliver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"

	"github.com/nhle/otp-forwarder/internal/backoff"
	"github.com/nhle/otp-forwarder/internal/model"
)

// Task is one pending notification: a message bound for a destination,
// with its retry bookkeeping.
type Task struct {
	ID            string
	Destination   int64
	Message       model.Message
	Attempts      int
	NextAttemptAt time.Time
	EnqueuedAt    time.Time
}

// Options configures queue behavior.
type Options struct {
	// MaxAttempts is the per-task retry budget.
	MaxAttempts int

	// BackoffBase and BackoffCap shape the delay between attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// SendTimeout bounds a single sink call.
	SendTimeout time.Duration

	// QueueSize is the per-destination buffer. A full buffer makes
	// Submit fail, which leaves the message unmarked and therefore
	// retried on the next poll cycle.
	QueueSize int

	// Format renders a message into the sink's text payload.
	Format func(model.Message) string

	// OnTerminalFailure is invoked after a task exhausts its retry
	// budget or hits a permanent failure. Used for operator reporting;
	// the task itself is dropped.
	OnTerminalFailure func(task Task, err error)
}

// DefaultOptions returns the retry policy used when a field is unset.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: 5,
		BackoffBase: 500 * time.Millisecond,
		BackoffCap:  30 * time.Second,
		SendTimeout: 30 * time.Second,
		QueueSize:   256,
	}
}

// Queue buffers outbound notifications and drains them with one worker
// per destination. A single worker per destination keeps delivery order
// equal to submission order without any cross-destination head-of-line
// blocking.
type Queue struct {
	sink Sink
	opts Options

	mu      sync.Mutex
	workers map[int64]chan Task
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	delivered uint64
	failed    uint64
}

// NewQueue creates a delivery queue over the given sink.
func NewQueue(sink Sink, opts Options) *Queue {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = def.BackoffBase
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = def.BackoffCap
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.Format == nil {
		opts.Format = func(m model.Message) string {
			return fmt.Sprintf("%s\n%s", m.Sender, m.Body)
		}
	}
	return &Queue{
		sink:    sink,
		opts:    opts,
		workers: make(map[int64]chan Task),
	}
}

// NewTask builds a delivery task for a message and destination.
func NewTask(destination int64, msg model.Message) Task {
	now := time.Now()
	return Task{
		ID:            xid.New().String(),
		Destination:   destination,
		Message:       msg,
		NextAttemptAt: now,
		EnqueuedAt:    now,
	}
}

// Start makes the queue accept submissions. Workers are spawned lazily,
// one per destination, on first submission.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx != nil {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Submit enqueues a task for its destination in FIFO order. It fails
// when the queue is stopped or the destination buffer is full; callers
// must not mark the message seen in that case.
func (q *Queue) Submit(task Task) error {
	q.mu.Lock()
	if q.closed || q.ctx == nil {
		q.mu.Unlock()
		return fmt.Errorf("delivery queue is not accepting tasks")
	}
	ch, ok := q.workers[task.Destination]
	if !ok {
		ch = make(chan Task, q.opts.QueueSize)
		q.workers[task.Destination] = ch
		q.wg.Add(1)
		go q.runWorker(task.Destination, ch)
	}
	q.mu.Unlock()

	select {
	case ch <- task:
		return nil
	default:
		return fmt.Errorf("delivery queue for destination %d is full", task.Destination)
	}
}

// Stop shuts the queue down: no new submissions are accepted, buffered
// tasks are dropped, and the in-flight attempt of each worker finishes
// or fails within its send timeout.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, ch := range q.workers {
		close(ch)
	}
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
}

// Depth returns the number of buffered tasks across all destinations.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := 0
	for _, ch := range q.workers {
		depth += len(ch)
	}
	return depth
}

// Stats returns the delivered and terminally failed counters.
func (q *Queue) Stats() (delivered, failed uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered, q.failed
}

// runWorker drains one destination's channel in order.
func (q *Queue) runWorker(destination int64, ch chan Task) {
	defer q.wg.Done()

	log.Debug().Int64("destination", destination).Msg("Delivery worker started")

	for task := range ch {
		select {
		case <-q.ctx.Done():
			// Shutting down; drain without sending. The message was
			// already marked seen at submit time, an accepted loss
			// window across restarts.
			continue
		default:
		}
		q.deliver(task)
	}

	log.Debug().Int64("destination", destination).Msg("Delivery worker stopped")
}

// deliver runs the retry loop for a single task.
func (q *Queue) deliver(task Task) {
	text := q.opts.Format(task.Message)

	var lastErr error
	for task.Attempts < q.opts.MaxAttempts {
		if task.Attempts > 0 {
			delay := backoff.Delay(q.opts.BackoffBase, q.opts.BackoffCap, task.Attempts-1)
			task.NextAttemptAt = time.Now().Add(delay)
			if !backoff.Sleep(q.ctx, delay) {
				return
			}
		}
		task.Attempts++

		ctx, cancel := context.WithTimeout(q.ctx, q.opts.SendTimeout)
		err := q.sink.Send(ctx, task.Destination, text)
		cancel()

		if err == nil {
			q.mu.Lock()
			q.delivered++
			q.mu.Unlock()
			log.Info().
				Str("task_id", task.ID).
				Str("message_id", task.Message.ID).
				Int64("destination", task.Destination).
				Int("attempts", task.Attempts).
				Msg("Message delivered")
			return
		}
		lastErr = err

		if IsPermanent(err) {
			break
		}
		log.Warn().
			Err(err).
			Str("task_id", task.ID).
			Int64("destination", task.Destination).
			Int("attempt", task.Attempts).
			Msg("Delivery attempt failed")
	}

	// Retry budget exhausted or permanently rejected. The task is
	// dropped with a report, never re-queued; the message stays marked
	// seen so a broken destination cannot wedge the pipeline.
	q.mu.Lock()
	q.failed++
	q.mu.Unlock()
	log.Error().
		Err(lastErr).
		Str("task_id", task.ID).
		Str("message_id", task.Message.ID).
		Int64("destination", task.Destination).
		Int("attempts", task.Attempts).
		Msg("Delivery failed terminally, dropping task")
	if q.opts.OnTerminalFailure != nil {
		q.opts.OnTerminalFailure(task, lastErr)
	}
}
