package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable indicates a transport-level failure (connection refused,
	// timeout, 5xx). The caller may fall back to the local store.
	ErrUnreachable = errors.New("backend: unreachable")
	// ErrNotFound indicates the backend answered and the resource does not
	// exist. Distinct from ErrUnreachable so routing can tell "not found"
	// from "no backend".
	ErrNotFound = errors.New("backend: not found")
)

// RejectedError is a 4xx response other than 404: the backend is healthy but
// refused the payload. Never retried automatically.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: rejected with status %d: %s", e.StatusCode, e.Message)
}

// IsUnreachable reports whether err represents a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}

// IsNotFound reports whether err represents a definitive absence.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRejected reports whether err is a backend validation refusal.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
