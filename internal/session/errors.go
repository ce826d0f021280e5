package session

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an identifier is unknown to the registry.
var ErrNotFound = errors.New("no session for identifier")

// ErrTooManySessions is returned when the registry's session cap is reached.
var ErrTooManySessions = errors.New("maximum number of sessions reached")

// AuthError reports credentials rejected by the remote host.
type AuthError struct{ Err error }

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError reports an unreachable host, DNS failure, or timeout before
// the handshake.
type NetworkError struct{ Err error }

func (e *NetworkError) Error() string { return fmt.Sprintf("network error: %v", e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a handshake or negotiation failure after the TCP
// connection was established.
type ProtocolError struct{ Err error }

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// ConnectionLostError reports a session that died mid-operation, including
// keepalive-detected death.
type ConnectionLostError struct{ Err error }

func (e *ConnectionLostError) Error() string { return fmt.Sprintf("connection lost: %v", e.Err) }
func (e *ConnectionLostError) Unwrap() error { return e.Err }

// TimeoutError reports a caller-supplied operation timeout that elapsed.
type TimeoutError struct {
	Op      string
	Elapsed string
}

func (e *TimeoutError) Error() string { return fmt.Sprintf("%s timed out after %s", e.Op, e.Elapsed) }

// TransferError reports an I/O failure during an upload or download. It
// carries the number of bytes completed so the caller can resume or restart.
type TransferError struct {
	Direction      string // "upload" or "download"
	BytesCompleted int64
	Err            error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s failed after %d bytes: %v", e.Direction, e.BytesCompleted, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
