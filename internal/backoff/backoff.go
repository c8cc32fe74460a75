package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Delay returns the exponential backoff delay for the given zero-based
// attempt number: base * 2^attempt, capped, with up to 20% random
// jitter added so that independent retriers spread out.
func Delay(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt && d < cap; i++ {
		d *= 2
	}
	if cap > 0 && d > cap {
		d = cap
	}
	return d + Jitter(d/5)
}

// Jitter returns a random duration in [0, max).
func Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// Sleep waits for d or until the context is canceled, whichever comes
// first. It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
