package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for connection and registry conditions.
var (
	// ErrRegistryClosed is returned when a session is requested during shutdown.
	ErrRegistryClosed = errors.New("server: registry closed")

	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("server: connection closed")

	// ErrSendQueueFull is returned when a non-frame message cannot be queued.
	ErrSendQueueFull = errors.New("server: send queue full")

	// ErrTransport wraps WebSocket read and write failures.
	ErrTransport = errors.New("server: transport error")
)

// SessionError wraps an error with connection context.
type SessionError struct {
	ConnID string
	Op     string // Operation that failed
	Err    error  // Underlying error
}

// Error returns the error message with connection context.
func (e *SessionError) Error() string {
	if e.ConnID == "" {
		return fmt.Sprintf("server: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("server: conn %s: %s: %v", e.ConnID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *SessionError) Unwrap() error {
	return e.Err
}
