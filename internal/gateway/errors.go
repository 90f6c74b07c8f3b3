package gateway

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNotConnected is returned by Request when the client is not in the
	// connected state. The transport is never touched in that case.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrAlreadyConnecting is returned by Connect while a connect or
	// reconnect attempt is already in flight.
	ErrAlreadyConnecting = errors.New("gateway: already connecting")

	// ErrConnectionClosed fails every outstanding request when the socket
	// drops or Disconnect is called.
	ErrConnectionClosed = errors.New("gateway: connection closed")

	// ErrRequestTimeout fails a request whose response never arrived.
	ErrRequestTimeout = errors.New("gateway: request timed out")
)

// ConnectionError represents a transport-level failure.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("gateway: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("gateway: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HandshakeError represents a failed auth handshake.
type HandshakeError struct {
	Reason string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway: handshake failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("gateway: handshake failed: %s", e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
