package rest

import (
	"errors"
	"fmt"
)

// ErrUnreachable wraps network-level failures (no response at all).
var ErrUnreachable = errors.New("chat backend unreachable")

// APIError is a non-2xx response from the backend. Message carries the
// server-provided error text verbatim so it can be surfaced to the user
// unchanged.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}
