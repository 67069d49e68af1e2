package sockets

import (
	"net/netip"
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"AT-SOCK/pkg/ringbuf"
)

// UDPState is the lifecycle state of a datagram socket. There is no
// handshake: Closed and Open are the whole machine.
type UDPState int

const (
	UDPClosed UDPState = iota
	UDPOpen
)

func (s UDPState) String() string {
	switch s {
	case UDPClosed:
		return "closed"
	case UDPOpen:
		return "open"
	default:
		return "invalid"
	}
}

// datagram records the boundary and sender of one buffered datagram so
// RecvFrom can hand back whole datagrams with their source.
type datagram struct {
	from netip.AddrPort
	size int
}

// UDPSocket is a datagram socket slot entry.
type UDPSocket struct {
	handle    Handle
	state     UDPState
	localPort uint16
	remote    netip.AddrPort
	rx        *ringbuf.Buffer
	meta      *queue.Queue

	lastActivity time.Time
	stateEntered time.Time

	lastErr error
	log     *zap.Logger
}

// NewUDP creates a closed datagram socket with a receive buffer of bufSize
// bytes.
func NewUDP(bufSize int) *UDPSocket {
	return &UDPSocket{
		handle: NoHandle,
		state:  UDPClosed,
		rx:     ringbuf.New(bufSize),
		meta:   queue.New(),
		log:    zap.NewNop(),
	}
}

func (s *UDPSocket) Handle() Handle          { return s.handle }
func (s *UDPSocket) Type() SocketType        { return TypeUDP }
func (s *UDPSocket) State() UDPState         { return s.state }
func (s *UDPSocket) Available() int          { return s.rx.Len() }
func (s *UDPSocket) LastActivity() time.Time { return s.lastActivity }
func (s *UDPSocket) StateEntered() time.Time { return s.stateEntered }

// LocalPort returns the bound port, 0 while an ephemeral assignment from
// the modem is still pending.
func (s *UDPSocket) LocalPort() uint16 { return s.localPort }

func (s *UDPSocket) RemoteEndpoint() netip.AddrPort { return s.remote }

func (s *UDPSocket) TakeError() error {
	err := s.lastErr
	s.lastErr = nil
	return err
}

func (s *UDPSocket) setHandle(h Handle)        { s.handle = h }
func (s *UDPSocket) setLogger(log *zap.Logger) { s.log = log }

func (s *UDPSocket) setState(now time.Time, next UDPState) {
	s.log.Debug("udp state change",
		zap.Stringer("sock", s.handle),
		zap.Stringer("from", s.state),
		zap.Stringer("to", next))
	s.state = next
	s.stateEntered = now
	s.lastActivity = now
}

// open moves the socket to UDPOpen. A zero localPort requests an ephemeral
// port from the modem, reported back later via a PortAssigned event.
func (s *UDPSocket) open(now time.Time, localPort uint16) error {
	if s.state != UDPClosed {
		return ErrInvalidState
	}
	s.localPort = localPort
	s.lastErr = nil
	s.setState(now, UDPOpen)
	return nil
}

// assignPort applies a PortAssigned event. Ignored unless the socket is
// open and still waiting for a port.
func (s *UDPSocket) assignPort(now time.Time, port uint16) bool {
	if s.state != UDPOpen || s.localPort != 0 {
		return false
	}
	s.localPort = port
	s.lastActivity = now
	return true
}

func (s *UDPSocket) canSend() bool { return s.state == UDPOpen }

func (s *UDPSocket) noteSend(now time.Time, remote netip.AddrPort) {
	s.remote = remote
	s.lastActivity = now
}

// enqueue stores one inbound datagram and remembers its sender and stored
// length. A datagram that does not fully fit is truncated and the overrun
// recorded on the socket.
func (s *UDPSocket) enqueue(now time.Time, from netip.AddrPort, p []byte) int {
	n, err := s.rx.Enqueue(p)
	if err != nil {
		s.lastErr = wrapReason(ErrBufferOverrun, "")
		s.log.Debug("rx overrun",
			zap.Stringer("sock", s.handle),
			zap.Int("stored", n),
			zap.Int("dropped", len(p)-n))
	}
	if n > 0 {
		s.meta.Add(datagram{from: from, size: n})
	}
	s.remote = from
	s.lastActivity = now
	return n
}

// recvFrom dequeues one whole datagram and its sender. An empty return with
// a zero AddrPort and nil error means nothing is pending. If the oldest
// datagram is longer than max the tail is discarded, per the usual datagram
// recv contract.
func (s *UDPSocket) recvFrom(now time.Time, max int) ([]byte, netip.AddrPort, error) {
	if s.state != UDPOpen && s.meta.Length() == 0 {
		return nil, netip.AddrPort{}, ErrNotConnected
	}
	if s.meta.Length() == 0 {
		return nil, netip.AddrPort{}, nil
	}
	d := s.meta.Remove().(datagram)
	buf := s.rx.Dequeue(d.size)
	if len(buf) > max {
		buf = buf[:max]
	}
	s.lastActivity = now
	return buf, d.from, nil
}

// close discards buffered datagrams. Unlike stream sockets there is no
// drain-after-close contract for datagrams.
func (s *UDPSocket) close(now time.Time) error {
	if s.state != UDPOpen {
		return ErrInvalidState
	}
	s.discard()
	s.localPort = 0
	s.setState(now, UDPClosed)
	return nil
}

// abort forces the socket closed on a transport-reported fatal error.
func (s *UDPSocket) abort(now time.Time, reason string) bool {
	if s.state == UDPClosed {
		return false
	}
	s.lastErr = wrapReason(ErrAborted, reason)
	s.discard()
	s.localPort = 0
	s.setState(now, UDPClosed)
	return true
}

// resetAttempt rolls an open whose directive never reached the modem back
// to UDPClosed. Nothing is retained on the socket: the caller already saw
// the failure synchronously.
func (s *UDPSocket) resetAttempt(now time.Time) {
	s.discard()
	s.localPort = 0
	s.setState(now, UDPClosed)
}

func (s *UDPSocket) discard() {
	s.rx.Clear()
	for s.meta.Length() > 0 {
		s.meta.Remove()
	}
}

// recycle reports whether Prune may reclaim this slot. A socket that has
// never seen any activity was only just allocated and is not reclaimed;
// open sockets are never recycled regardless of age.
func (s *UDPSocket) recycle(now time.Time, idleTimeout time.Duration) bool {
	if s.lastActivity.IsZero() || s.state != UDPClosed {
		return false
	}
	return now.Sub(s.lastActivity) >= idleTimeout
}
