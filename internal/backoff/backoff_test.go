package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second

	// With up to 20% jitter, attempt n stays within [2^n*base, 1.2*2^n*base]
	// until the cap kicks in.
	for attempt, want := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	} {
		d := Delay(base, cap, attempt)
		assert.GreaterOrEqual(t, d, want, "attempt %d", attempt)
		assert.LessOrEqual(t, d, want+want/5, "attempt %d", attempt)
	}

	for attempt := 4; attempt < 10; attempt++ {
		d := Delay(base, cap, attempt)
		assert.LessOrEqual(t, d, cap+cap/5, "attempt %d", attempt)
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	d := Delay(100*time.Millisecond, time.Second, -1)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
}

func TestJitterStaysInRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		j := Jitter(time.Second)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, time.Second)
	}
	assert.Zero(t, Jitter(0))
}

func TestSleepReturnsEarlyOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	ok := Sleep(ctx, time.Minute)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepCompletes(t *testing.T) {
	ok := Sleep(context.Background(), time.Millisecond)
	assert.True(t, ok)
}
