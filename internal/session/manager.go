package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/otp-forwarder/internal/backoff"
	"github.com/nhle/otp-forwarder/internal/source"
)

// Options configures session lifetime and login retry behavior.
type Options struct {
	// MaxAge forces a re-login once a handle has been alive this long,
	// even if the source has not rejected it yet. Zero disables the
	// age check.
	MaxAge time.Duration

	// LoginMaxAttempts bounds how many times one Acquire retries a
	// failing login before surfacing the error.
	LoginMaxAttempts int

	// LoginBackoffBase and LoginBackoffCap shape the delay between
	// login attempts.
	LoginBackoffBase time.Duration
	LoginBackoffCap  time.Duration
}

// DefaultOptions returns the retry policy used when a field is unset.
func DefaultOptions() Options {
	return Options{
		MaxAge:           30 * time.Minute,
		LoginMaxAttempts: 5,
		LoginBackoffBase: 2 * time.Second,
		LoginBackoffCap:  60 * time.Second,
	}
}

// Manager owns the single authenticated session to the source. It hands
// out the current handle, re-authenticates when the handle is missing,
// too old, or invalidated, and coalesces concurrent logins so that N
// simultaneous Acquire calls during an expired session perform exactly
// one login attempt.
type Manager struct {
	adapter source.Adapter
	opts    Options

	group singleflight.Group

	mu      sync.Mutex
	current source.Handle
}

// NewManager creates a session manager over the given adapter.
func NewManager(adapter source.Adapter, opts Options) *Manager {
	if opts.LoginMaxAttempts <= 0 {
		opts.LoginMaxAttempts = DefaultOptions().LoginMaxAttempts
	}
	if opts.LoginBackoffBase <= 0 {
		opts.LoginBackoffBase = DefaultOptions().LoginBackoffBase
	}
	if opts.LoginBackoffCap <= 0 {
		opts.LoginBackoffCap = DefaultOptions().LoginBackoffCap
	}
	return &Manager{adapter: adapter, opts: opts}
}

// Acquire returns a currently believed-valid handle, logging in first
// if none exists or the held one has aged out. Login failures are
// retried internally with exponential backoff before an *source.AuthError
// is surfaced.
func (m *Manager) Acquire(ctx context.Context) (source.Handle, error) {
	if h := m.validHandle(); h != nil {
		return h, nil
	}

	// All concurrent callers funnel into one login attempt; each gets
	// the same handle or the same error.
	v, err, _ := m.group.Do("login", func() (interface{}, error) {
		// A racing caller may have completed a login between our
		// validHandle check and entering the flight.
		if h := m.validHandle(); h != nil {
			return h, nil
		}
		return m.login(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(source.Handle), nil
}

// Invalidate discards the given handle if it is still the current one.
// Consumers call this after the source rejects a request made with the
// handle; the next Acquire re-authenticates.
func (m *Manager) Invalidate(h source.Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.ID() == h.ID() {
		log.Debug().Str("session_id", h.ID()).Msg("Session handle invalidated")
		m.current = nil
	}
}

// validHandle returns the current handle if it exists and has not aged
// out, else nil.
func (m *Manager) validHandle() source.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	if m.opts.MaxAge > 0 && time.Since(m.current.CreatedAt()) > m.opts.MaxAge {
		log.Debug().Str("session_id", m.current.ID()).Msg("Session handle aged out")
		m.current = nil
		return nil
	}
	return m.current
}

// login performs the actual authentication with retry. Credential
// rejections are not retried: the password will not get better on its
// own, and hammering the login form risks a lockout.
func (m *Manager) login(ctx context.Context) (source.Handle, error) {
	var lastErr error
	for attempt := 0; attempt < m.opts.LoginMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff.Delay(m.opts.LoginBackoffBase, m.opts.LoginBackoffCap, attempt-1)
			log.Warn().Err(lastErr).Int("attempt", attempt).Dur("delay", delay).Msg("Login failed, backing off")
			if !backoff.Sleep(ctx, delay) {
				return nil, ctx.Err()
			}
		}

		h, err := m.adapter.Login(ctx)
		if err == nil {
			m.mu.Lock()
			m.current = h
			m.mu.Unlock()
			log.Info().Str("session_id", h.ID()).Msg("Authenticated against source")
			return h, nil
		}
		lastErr = err

		var authErr *source.AuthError
		if errors.As(err, &authErr) && authErr.Reason == source.AuthReasonCredentials {
			break
		}
	}
	return nil, lastErr
}
