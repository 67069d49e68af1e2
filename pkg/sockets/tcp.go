package sockets

import (
	"net/netip"
	"time"

	"go.uber.org/zap"

	"AT-SOCK/pkg/ringbuf"
)

// TCPState is the lifecycle state of a stream socket. The actual TCP
// machinery runs on the modem; this machine only tracks what the host is
// allowed to do with the socket.
type TCPState int

const (
	// TCPClosed is the initial and terminal state. No buffered data is
	// retained across a reopen.
	TCPClosed TCPState = iota
	// TCPConnecting means a connect directive was handed to the modem and
	// its confirmation is still pending.
	TCPConnecting
	// TCPConnected means the modem confirmed the connection.
	TCPConnected
	// TCPRemoteClosed means the peer closed its side. Receive keeps
	// working until the buffer is drained; send is refused.
	TCPRemoteClosed
	// TCPLocalClosing is held while a close directive is being handed to
	// the modem. The directive is best-effort, so the socket settles in
	// TCPClosed within the same Close call.
	TCPLocalClosing
)

func (s TCPState) String() string {
	switch s {
	case TCPClosed:
		return "closed"
	case TCPConnecting:
		return "connecting"
	case TCPConnected:
		return "connected"
	case TCPRemoteClosed:
		return "remote-closed"
	case TCPLocalClosing:
		return "local-closing"
	default:
		return "invalid"
	}
}

// DefaultCheckInterval rate-limits pending-data queries to the modem for a
// connected socket.
const DefaultCheckInterval = 15 * time.Second

// TCPSocket is a stream socket slot entry.
type TCPSocket struct {
	handle Handle
	state  TCPState
	remote netip.AddrPort
	rx     *ringbuf.Buffer

	lastActivity  time.Time
	stateEntered  time.Time
	lastCheck     time.Time
	checkInterval time.Duration

	lastErr error
	log     *zap.Logger
}

// NewTCP creates a closed stream socket with a receive buffer of bufSize
// bytes.
func NewTCP(bufSize int) *TCPSocket {
	return &TCPSocket{
		handle:        NoHandle,
		state:         TCPClosed,
		rx:            ringbuf.New(bufSize),
		checkInterval: DefaultCheckInterval,
		log:           zap.NewNop(),
	}
}

func (s *TCPSocket) Handle() Handle          { return s.handle }
func (s *TCPSocket) Type() SocketType        { return TypeTCP }
func (s *TCPSocket) State() TCPState         { return s.state }
func (s *TCPSocket) Available() int          { return s.rx.Len() }
func (s *TCPSocket) LastActivity() time.Time { return s.lastActivity }
func (s *TCPSocket) StateEntered() time.Time { return s.stateEntered }

func (s *TCPSocket) RemoteEndpoint() netip.AddrPort {
	if s.state == TCPClosed {
		return netip.AddrPort{}
	}
	return s.remote
}

func (s *TCPSocket) TakeError() error {
	err := s.lastErr
	s.lastErr = nil
	return err
}

func (s *TCPSocket) setHandle(h Handle)        { s.handle = h }
func (s *TCPSocket) setLogger(log *zap.Logger) { s.log = log }

func (s *TCPSocket) setState(now time.Time, next TCPState) {
	s.log.Debug("tcp state change",
		zap.Stringer("sock", s.handle),
		zap.Stringer("from", s.state),
		zap.Stringer("to", next))
	s.state = next
	s.stateEntered = now
	s.lastActivity = now
}

// connect starts a connection attempt. Legal only from TCPClosed.
func (s *TCPSocket) connect(now time.Time, remote netip.AddrPort) error {
	if s.state != TCPClosed {
		return ErrInvalidState
	}
	s.rx.Clear()
	s.lastErr = nil
	s.lastCheck = time.Time{}
	s.remote = remote
	s.setState(now, TCPConnecting)
	return nil
}

// confirm applies a ConnectConfirmed event. A confirmation arriving in any
// other state is a benign race and is ignored.
func (s *TCPSocket) confirm(now time.Time) bool {
	if s.state != TCPConnecting {
		return false
	}
	s.setState(now, TCPConnected)
	return true
}

// connectFailed applies a ConnectFailed event.
func (s *TCPSocket) connectFailed(now time.Time, reason string) bool {
	if s.state != TCPConnecting {
		return false
	}
	s.lastErr = wrapReason(ErrConnectFailed, reason)
	s.rx.Clear()
	s.setState(now, TCPClosed)
	return true
}

// enqueue stores inbound payload. A short store records ErrBufferOverrun on
// the socket; the bytes that fit are kept and readable.
func (s *TCPSocket) enqueue(now time.Time, p []byte) int {
	n, err := s.rx.Enqueue(p)
	if err != nil {
		s.lastErr = wrapReason(ErrBufferOverrun, "")
		s.log.Debug("rx overrun",
			zap.Stringer("sock", s.handle),
			zap.Int("stored", n),
			zap.Int("dropped", len(p)-n))
	}
	s.lastActivity = now
	return n
}

func (s *TCPSocket) canSend() bool { return s.state == TCPConnected }

func (s *TCPSocket) noteSend(now time.Time) { s.lastActivity = now }

// mayRecv reports whether the receive half is open: connected, shut down by
// the peer with data possibly left over, or simply holding buffered bytes.
func (s *TCPSocket) mayRecv() bool {
	switch {
	case s.state == TCPConnected, s.state == TCPRemoteClosed:
		return true
	case !s.rx.IsEmpty():
		return true
	default:
		return false
	}
}

// recv dequeues up to max buffered bytes. An empty return with nil error
// means no data is pending yet.
func (s *TCPSocket) recv(now time.Time, max int) ([]byte, error) {
	if !s.mayRecv() {
		return nil, ErrNotConnected
	}
	out := s.rx.Dequeue(max)
	if len(out) > 0 {
		s.lastActivity = now
	}
	return out, nil
}

// Peek returns up to max buffered bytes without consuming them.
func (s *TCPSocket) Peek(max int) ([]byte, error) {
	if !s.mayRecv() {
		return nil, ErrNotConnected
	}
	return s.rx.Peek(max), nil
}

// closedByRemote applies a RemoteClosedByPeer event.
func (s *TCPSocket) closedByRemote(now time.Time) bool {
	if s.state != TCPConnected {
		return false
	}
	s.setState(now, TCPRemoteClosed)
	return true
}

// startClose begins a local close. Legal from TCPConnecting (cancelling the
// attempt), TCPConnected, or TCPRemoteClosed.
func (s *TCPSocket) startClose(now time.Time) error {
	switch s.state {
	case TCPConnecting, TCPConnected, TCPRemoteClosed:
		s.setState(now, TCPLocalClosing)
		return nil
	default:
		return ErrInvalidState
	}
}

// finishClose settles the socket in TCPClosed once the close directive has
// been handed off. Local state is authoritative regardless of whether the
// modem acknowledged.
func (s *TCPSocket) finishClose(now time.Time) {
	s.rx.Clear()
	s.setState(now, TCPClosed)
}

// abort forces the socket closed, discarding buffered data. Used for
// transport-reported fatal errors.
func (s *TCPSocket) abort(now time.Time, reason string) bool {
	if s.state == TCPClosed {
		return false
	}
	s.lastErr = wrapReason(ErrAborted, reason)
	s.rx.Clear()
	s.setState(now, TCPClosed)
	return true
}

// resetAttempt rolls a connect attempt whose directive never reached the
// modem back to TCPClosed. Nothing is retained on the socket: the caller
// already saw the failure synchronously.
func (s *TCPSocket) resetAttempt(now time.Time) {
	s.rx.Clear()
	s.setState(now, TCPClosed)
}

// expireConnect aborts a connect attempt that has been pending longer than
// timeout. The caller supplies now; the socket never reads the clock.
func (s *TCPSocket) expireConnect(now time.Time, timeout time.Duration) bool {
	if s.state != TCPConnecting {
		return false
	}
	if now.Sub(s.stateEntered) < timeout {
		return false
	}
	s.lastErr = ErrTimeout
	s.rx.Clear()
	s.setState(now, TCPClosed)
	return true
}

// ShouldPoll reports whether it is time to ask the modem how many bytes are
// pending for this socket. True at most once per check interval, and only
// while connected.
func (s *TCPSocket) ShouldPoll(now time.Time) bool {
	if s.state != TCPConnected {
		return false
	}
	if !s.lastCheck.IsZero() && now.Sub(s.lastCheck) < s.checkInterval {
		return false
	}
	s.lastCheck = now
	return true
}

// recycle reports whether Prune may reclaim this slot: closed and idle, or
// shut down by the peer with the buffer drained and idle. A socket that has
// never seen any activity was only just allocated and is not reclaimed;
// active sockets are never recycled regardless of age.
func (s *TCPSocket) recycle(now time.Time, idleTimeout time.Duration) bool {
	if s.lastActivity.IsZero() {
		return false
	}
	switch s.state {
	case TCPClosed:
		return now.Sub(s.lastActivity) >= idleTimeout
	case TCPRemoteClosed:
		return s.rx.IsEmpty() && now.Sub(s.lastActivity) >= idleTimeout
	default:
		return false
	}
}
