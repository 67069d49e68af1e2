package sockets

import "github.com/pkg/errors"

// Errors returned by the socket engine. All of them are local to one socket
// or one operation; nothing in this package is fatal to the process except
// capacity-invariant violations, which panic because they indicate an
// internal bug rather than a runtime condition.
var (
	// ErrNoAvailableSockets means the set is at capacity.
	ErrNoAvailableSockets = errors.New("no available sockets")
	// ErrInvalidHandle means the handle is unknown or its slot is empty.
	ErrInvalidHandle = errors.New("invalid socket handle")
	// ErrInvalidState means the intent is not legal in the current
	// lifecycle state. Usually a logic error in the caller.
	ErrInvalidState = errors.New("operation not legal in current state")
	// ErrNotConnected means send/recv was attempted outside a
	// data-capable state.
	ErrNotConnected = errors.New("socket not connected")
	// ErrBufferOverrun is recorded on a socket when inbound data did not
	// fully fit its receive buffer. Back-pressure signal: slow down, poll
	// more.
	ErrBufferOverrun = errors.New("receive buffer overrun")
	// ErrConnectFailed is recorded when the modem reports a failed
	// connection attempt.
	ErrConnectFailed = errors.New("connect failed")
	// ErrAborted is recorded when the modem reports a fatal error on an
	// open socket.
	ErrAborted = errors.New("connection aborted")
	// ErrTimeout is recorded when a connect attempt outlives the
	// caller-supplied deadline.
	ErrTimeout = errors.New("timed out")
)

// wrapReason attaches a modem-reported reason to a sentinel, keeping the
// sentinel matchable with errors.Is.
func wrapReason(base error, reason string) error {
	if reason == "" {
		return base
	}
	return errors.Wrap(base, reason)
}
