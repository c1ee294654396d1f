package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUpstreamFault marks a body carrying a known transient server-side error marker.
var ErrUpstreamFault = errors.New("upstream reported a transient fault")

// TransportError wraps a network-level failure (timeout, reset, abort).
type TransportError struct {
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timed out: %v", e.Err)
	}
	return fmt.Sprintf("request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExhaustedError is returned once every attempt ended in a soft failure.
type ExhaustedError struct {
	Attempts int
	Last     error
	Trail    []Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
