package delivery

import (
	"errors"
	"fmt"
)

// ErrDeliveryFailed is returned in raise mode when a delivery failed without
// a more specific cause.
var ErrDeliveryFailed = errors.New("delivery: trace delivery failed")

// ErrQueueFull is the fallback cause for a background delivery refused
// because AsyncQueueSize deliveries were already pending.
var ErrQueueFull = errors.New("delivery: background queue full")

// Error is a non-success response from the ingest endpoint.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("delivery: ingest returned %d", e.StatusCode)
	}
	return fmt.Sprintf("delivery: ingest returned %d: %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an ingest response with the given status.
func IsStatus(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}
