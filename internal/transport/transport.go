package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("transport: stream closed")

// Transport is a duplex byte stream to one device interpreter.
//
// ReadUntil returns every byte consumed up to and including marker. The
// stream offers no push notification, so silence is interpreted through the
// timeout: expiry yields a *TimeoutError carrying whatever partial bytes
// arrived. Implementations check ctx before the first read and between reads,
// never mid-read.
type Transport interface {
	Write(p []byte) error
	ReadUntil(ctx context.Context, marker []byte, timeout time.Duration) ([]byte, error)
	Close() error
}

// TimeoutError reports a bounded read that expired before its marker appeared.
type TimeoutError struct {
	Marker   []byte
	Elapsed  time.Duration
	Attempts int
	Partial  []byte
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: timed out after %v awaiting %q (%d bytes buffered)",
		e.Elapsed, e.Marker, len(e.Partial))
}

// IsTimeout reports whether err is a bounded-read expiry.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
