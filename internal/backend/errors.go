package backend

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrTimeout     = errors.New("backend: request timed out")
	ErrUnavailable = errors.New("backend: host unreachable or transport failure")
	ErrBadResponse = errors.New("backend: invalid response format or malformed data")
	ErrRejected    = errors.New("backend: request rejected")
)

// CallError wraps the sentinel errors with operation context.
type CallError struct {
	Sentinel  error
	Operation string
	Status    int
	Message   string
	Err       error // nested lower-level error (e.g. net.Error)
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("backend: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Sentinel
}
