package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrNotConnected indicates the channel is not connected.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live channel.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrClosed indicates the channel was intentionally closed.
	ErrClosed = errors.New("transport: channel closed")

	// ErrMissingURL indicates the channel has no endpoint configured.
	ErrMissingURL = errors.New("transport: endpoint URL is required")

	// ErrRetriesExhausted indicates reconnection gave up after the
	// configured number of attempts.
	ErrRetriesExhausted = errors.New("transport: reconnect attempts exhausted")
)

// ConnectionError represents a WebSocket connection error.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnection should be attempted.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transport: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection should be attempted.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}
