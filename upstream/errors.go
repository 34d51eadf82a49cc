package upstream

import (
	"errors"
	"fmt"
)

// ErrNotFound means the upstream service does not know the channel.
var ErrNotFound = errors.New("upstream: channel not found")

// Error is a transient upstream failure: transport error, timeout, non-2xx
// status or an unparseable body. The scheduler retries these on its own
// cadence.
type Error struct {
	Op         string // "lookup", "search" or "image"
	Target     string // channel ID, query or URL
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("upstream: %s %q: status %d: %v", e.Op, e.Target, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream: %s %q: status %d", e.Op, e.Target, e.StatusCode)
	default:
		return fmt.Sprintf("upstream: %s %q: %v", e.Op, e.Target, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// IsFailure reports whether err is one the tracker counts against a
// channel: an upstream Error or ErrNotFound.
func IsFailure(err error) bool {
	var ue *Error
	return errors.Is(err, ErrNotFound) || errors.As(err, &ue)
}
