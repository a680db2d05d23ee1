// Package fault defines the error taxonomy shared by the agent components.
// Every failure that reaches the mode controller is one of these kinds.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport means no usable response arrived (connect error, timeout, reset).
	ErrTransport = errors.New("transport failure")
	// ErrServerRejected means the remote service answered with a non-success status.
	ErrServerRejected = errors.New("rejected by server")
	// ErrNotAssociated means the wireless network could not be joined.
	ErrNotAssociated = errors.New("wireless not associated")
	// ErrStorageCorrupt means a persisted file exists but cannot be parsed.
	ErrStorageCorrupt = errors.New("storage corrupt")
	// ErrRegistrationMissing means an operation needs a registration record that does not exist.
	ErrRegistrationMissing = errors.New("registration missing")
)

// RejectedError carries the status and body of a non-success response.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Unwrap lets errors.Is(err, ErrServerRejected) match.
func (e *RejectedError) Unwrap() error { return ErrServerRejected }

// Transport wraps err so that errors.Is(err, ErrTransport) matches.
func Transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}

// Corrupt wraps err so that errors.Is(err, ErrStorageCorrupt) matches.
func Corrupt(path string, err error) error {
	return fmt.Errorf("%s: %w: %w", path, ErrStorageCorrupt, err)
}

// Kind names the taxonomy kind of err for structured logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrTransport):
		return "transport_failure"
	case errors.Is(err, ErrServerRejected):
		return "server_rejected"
	case errors.Is(err, ErrNotAssociated):
		return "not_associated"
	case errors.Is(err, ErrStorageCorrupt):
		return "storage_corrupt"
	case errors.Is(err, ErrRegistrationMissing):
		return "registration_missing"
	default:
		return "unknown"
	}
}
