package sockets

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type SocketType int

const (
	TypeTCP SocketType = iota
	TypeUDP
)

func (t SocketType) String() string {
	switch t {
	case TypeTCP:
		return "tcp"
	case TypeUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Socket is the surface shared by stream and datagram sockets. A socket is
// exclusively owned by the Set slot it occupies; applications hold only a
// Handle and go through the Stack for every operation.
type Socket interface {
	// Handle returns the slot handle, or NoHandle when not in a set.
	Handle() Handle
	Type() SocketType
	// Available returns the number of bytes currently readable.
	Available() int
	// LastActivity returns the time of the last state transition or data
	// arrival, for idle detection.
	LastActivity() time.Time
	// RemoteEndpoint returns the peer endpoint, or the zero AddrPort when
	// none is known.
	RemoteEndpoint() netip.AddrPort
	// TakeError returns the last transport-reported error condition and
	// clears it. Nil when no error is pending.
	TakeError() error

	setHandle(h Handle)
	setLogger(log *zap.Logger)
	// recycle reports whether the socket may be reclaimed by Prune.
	recycle(now time.Time, idleTimeout time.Duration) bool
	// abort forces the socket closed on a transport-reported fatal error,
	// discarding buffered data. Reports false when already closed.
	abort(now time.Time, reason string) bool
}

// AsTCP downcasts a set entry to a stream socket.
func AsTCP(s Socket) (*TCPSocket, error) {
	t, ok := s.(*TCPSocket)
	if !ok {
		return nil, errors.Wrap(ErrInvalidState, "not a stream socket")
	}
	return t, nil
}

// AsUDP downcasts a set entry to a datagram socket.
func AsUDP(s Socket) (*UDPSocket, error) {
	u, ok := s.(*UDPSocket)
	if !ok {
		return nil, errors.Wrap(ErrInvalidState, "not a datagram socket")
	}
	return u, nil
}
