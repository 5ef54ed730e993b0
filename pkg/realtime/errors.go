package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAMember is returned by Registry.Subscribe when the
	// authorization collaborator denies channel membership. Recoverable:
	// the session stays open and only the requester is answered.
	ErrNotAMember = errors.New("realtime: not a member of channel")

	// ErrSlowConsumer is returned by Session.Enqueue when the outbound
	// queue is full. Terminal for that session: it is evicted so fan-out
	// to other subscribers is never delayed.
	ErrSlowConsumer = errors.New("realtime: outbound queue full")

	// ErrSessionClosed is returned when an operation targets a session
	// that has already entered Closing or Closed.
	ErrSessionClosed = errors.New("realtime: session closed")

	// ErrMaxSessionsReached is returned by SessionManager.Create when
	// the configured session limit is hit.
	ErrMaxSessionsReached = errors.New("realtime: maximum sessions reached")

	// ErrNotAuthenticated is returned when the handshake does not yield
	// valid credentials within the grace period. Terminal.
	ErrNotAuthenticated = errors.New("realtime: not authenticated")
)

// AuthError is the terminal handshake failure sent to the client as an
// authentication_error before the connection is closed.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("realtime: authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "realtime: authentication failed: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError marks a malformed client message. Recoverable: it is
// logged, answered with an error message, and the connection stays open.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "realtime: protocol error: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error { return e.Err }
