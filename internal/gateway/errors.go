package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session id is not present in the registry.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExists is returned when creating a session whose id is taken.
	ErrAlreadyExists = errors.New("session already exists")

	// ErrCapacityExceeded is returned when the session ceiling is reached.
	ErrCapacityExceeded = errors.New("maximum sessions limit reached")

	// ErrNotConnected is returned when the recorded state is not connected.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotReady is returned when the live connection state disagrees with
	// the recorded connected state.
	ErrNotReady = errors.New("session not ready")

	// ErrSessionClosed is returned when the underlying transport confirmed
	// the session is gone mid-operation.
	ErrSessionClosed = errors.New("session closed")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// NotConnectedError carries the recorded state that failed the precondition.
type NotConnectedError struct {
	State State
}

func (e NotConnectedError) Error() string {
	return fmt.Sprintf("%s (state: %s)", ErrNotConnected.Error(), e.State)
}

func (e NotConnectedError) Unwrap() error { return ErrNotConnected }

// NotReadyError carries the live state reported by the connection.
type NotReadyError struct {
	Live LiveState
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("%s (live state: %s)", ErrNotReady.Error(), e.Live)
}

func (e NotReadyError) Unwrap() error { return ErrNotReady }
