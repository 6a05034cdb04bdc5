package model

import (
	"errors"
	"fmt"
)

var (
	// Orchestration
	ErrRepairInFlight      = errors.New("repair already in flight")
	ErrCredentialsRequired = errors.New("operator credentials required")
	ErrRepairThrottled     = errors.New("repair attempts throttled")

	// Session
	ErrTokenRejected  = errors.New("token rejected by server")
	ErrProfileMissing = errors.New("user profile missing")
	ErrProfileInvalid = errors.New("invalid user profile")

	// Generic
	ErrInvalidInput = errors.New("invalid input")
)

// TransportError is a network failure or timeout talking to the identity
// endpoint. It is the only retryable failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthenticationError means the identity endpoint rejected the credentials or
// answered with something unusable. StatusCode is 0 when the HTTP exchange
// succeeded but the payload was bad.
type AuthenticationError struct {
	StatusCode int
	Body       string
	Reason     string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed: %s (status %d)", e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// CorruptionPersistsError is returned when a session is still not VALID after
// a completed repair cycle.
type CorruptionPersistsError struct {
	State  SessionState
	Reason string
}

func (e *CorruptionPersistsError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("session still %s after repair: %s", e.State, e.Reason)
	}
	return fmt.Sprintf("session still %s after repair", e.State)
}

type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// ErrorKind names the taxonomy bucket of err for logs and the run journal.
func ErrorKind(err error) string {
	var (
		transportErr  *TransportError
		authErr       *AuthenticationError
		corruptionErr *CorruptionPersistsError
		storageErr    *StorageError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &transportErr):
		return "transport"
	case errors.As(err, &authErr):
		return "authentication"
	case errors.As(err, &corruptionErr):
		return "corruption_persists"
	case errors.As(err, &storageErr):
		return "storage"
	case errors.Is(err, ErrRepairInFlight):
		return "in_flight"
	case errors.Is(err, ErrCredentialsRequired):
		return "credentials_required"
	case errors.Is(err, ErrRepairThrottled):
		return "throttled"
	default:
		return "unknown"
	}
}
