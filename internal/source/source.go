package source

import (
	"context"
	"time"

	"github.com/nhle/otp-forwarder/internal/model"
)

// Handle is an opaque authorization handle for source queries. It is
// created by a successful Login and owned by the session manager;
// consumers only pass it back into Adapter calls.
type Handle interface {
	// ID identifies this particular login for logging.
	ID() string

	// CreatedAt is when the handle was established.
	CreatedAt() time.Time
}

// Adapter is the capability contract for the scraped source site.
// Implementations own the HTTP/automation mechanics; consumers only see
// messages and the error taxonomy in this package.
type Adapter interface {
	// Login authenticates against the source and returns a fresh
	// handle. Failures are reported as *AuthError with a reason that
	// distinguishes bad credentials from network trouble and from an
	// unexpected login-page shape.
	Login(ctx context.Context) (Handle, error)

	// ListCurrent returns a snapshot of the currently visible messages,
	// most recent first. Repeated calls without new arrivals return an
	// equal set. Recoverable trouble (timeouts, malformed rows) is a
	// *TransientError; a rejected handle is an *AuthError.
	ListCurrent(ctx context.Context, h Handle) ([]model.Message, error)

	// ListRange returns messages received between start and end
	// inclusive. Callers must validate the range first; the adapter
	// assumes start <= end.
	ListRange(ctx context.Context, h Handle, start, end time.Time) ([]model.Message, error)
}
