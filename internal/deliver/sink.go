package deliver

import (
	"context"
	"errors"
	"fmt"
)

// Sink is the outbound notification boundary. Implementations send an
// opaque text payload to a destination and classify failures just well
// enough for the queue's retry decision.
type Sink interface {
	Send(ctx context.Context, destination int64, text string) error
}

// Failure describes a rejected or unreachable send. Permanent failures
// (an invalid destination, a malformed payload) are not retried;
// everything else (rate limits, timeouts, 5xx) is.
type Failure struct {
	Permanent bool
	Reason    string
}

func (f *Failure) Error() string {
	kind := "transient"
	if f.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("delivery failed (%s): %s", kind, f.Reason)
}

// IsPermanent reports whether err is a Failure marked permanent.
func IsPermanent(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Permanent
}
