package source

import (
	"errors"
	"fmt"
	"time"
)

// AuthReason classifies why authentication failed.
type AuthReason string

const (
	// AuthReasonCredentials means the source rejected the email or
	// password. Retrying without operator intervention will not help.
	AuthReasonCredentials AuthReason = "credentials"

	// AuthReasonNetwork means the source could not be reached while
	// trying to authenticate.
	AuthReasonNetwork AuthReason = "network"

	// AuthReasonDrift means the login page did not have the expected
	// shape, typically after a site redesign.
	AuthReasonDrift AuthReason = "protocol-drift"

	// AuthReasonExpired means a previously valid handle was rejected
	// mid-use and a re-login is needed.
	AuthReasonExpired AuthReason = "expired"
)

// AuthError indicates that authentication failed or a session handle
// was rejected by the source.
type AuthError struct {
	Reason  AuthReason
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Reason, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransientError indicates a retry-worthy fetch failure: a timeout, a
// connection reset, or a response that was malformed in a recoverable way.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient fetch error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a TransientError.
func IsTransient(err error) bool {
	var tr *TransientError
	return errors.As(err, &tr)
}

// DriftError indicates the source response had an unexpected shape that
// is not obviously transient. It is logged loudly and then treated like
// a transient failure with capped retries, never silently ignored.
type DriftError struct {
	Op     string
	Detail string
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("unexpected %s response shape: %s", e.Op, e.Detail)
}

// IsDrift reports whether err (or any error in its chain) is a DriftError.
func IsDrift(err error) bool {
	var de *DriftError
	return errors.As(err, &de)
}

// InvalidRangeError rejects a historical query whose bounds are
// reversed or wider than the configured maximum span.
type InvalidRangeError struct {
	Start, End time.Time
	Reason     string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %s..%s: %s",
		e.Start.Format("2006-01-02"), e.End.Format("2006-01-02"), e.Reason)
}

// IsInvalidRange reports whether err (or any error in its chain) is an
// InvalidRangeError.
func IsInvalidRange(err error) bool {
	var ir *InvalidRangeError
	return errors.As(err, &ir)
}
