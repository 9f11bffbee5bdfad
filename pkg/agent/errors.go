package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Session implementations. Match with errors.Is.
var (
	// ErrSessionClosed is returned by Speak when the session's transport is
	// closed or has failed.
	ErrSessionClosed = errors.New("agent: session closed")

	// ErrTurnInFlight is returned by Speak when another turn on the same
	// session has not yet resolved. Sessions run exactly one turn at a time.
	ErrTurnInFlight = errors.New("agent: turn already in flight")

	// ErrTurnTimeout is returned by Speak when no resolving event arrives
	// within the turn timeout. The timeout is a local give-up signal only;
	// the remote side may still be processing.
	ErrTurnTimeout = errors.New("agent: turn timed out")

	// ErrSetupRejected is returned by Connect when the remote side reports an
	// error before acknowledging the setup handshake.
	ErrSetupRejected = errors.New("agent: setup rejected by remote")

	// ErrInvalidResponse is returned by Speak when an inbound event frame
	// cannot be decoded while a turn is in flight.
	ErrInvalidResponse = errors.New("agent: invalid response format")
)

// RemoteError is a fatal error event reported by the remote agent during a
// turn. It fails the turn immediately; the session itself stays usable unless
// the transport also went down.
type RemoteError struct {
	// Code is the remote side's numeric error code.
	Code int

	// Message is the remote side's human-readable description.
	Message string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("agent: remote error %d: %s", e.Code, e.Message)
}
