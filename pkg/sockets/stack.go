package sockets

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Clock supplies the current time to the engine. The engine never starts
// timers of its own; all time-based behavior is a pure function of the
// timestamps a Clock (or an explicit now argument) supplies.
type Clock func() time.Time

const (
	DefaultMaxSockets = 8
	DefaultBufferSize = 2048
)

// Config carries the engine knobs.
type Config struct {
	// MaxSockets is the fixed slot count of the socket set.
	MaxSockets int
	// BufferSize is the per-socket receive buffer capacity in bytes used
	// by NewStreamSocket/NewDatagramSocket.
	BufferSize int
	// Clock defaults to time.Now.
	Clock Clock
}

func (c *Config) fillDefaults() {
	if c.MaxSockets <= 0 {
		c.MaxSockets = DefaultMaxSockets
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Stack is the application-facing socket engine: a bounded socket set, the
// per-socket state machines, and the seam to the modem transport. All
// methods are synchronous and non-blocking; readiness is discovered by
// polling Available and state, never by waiting. The stack is meant to be
// driven from one execution context at a time and holds no locks.
type Stack struct {
	set      *Set
	listener *Listener
	tr       Transport
	clock    Clock
	cfg      Config
	log      *zap.Logger
}

// NewStack creates an engine over the given transport.
func NewStack(cfg Config, tr Transport, log *zap.Logger) *Stack {
	cfg.fillDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Stack{
		set:      NewSet(cfg.MaxSockets, log),
		listener: NewListener(),
		tr:       tr,
		clock:    cfg.Clock,
		cfg:      cfg,
		log:      log,
	}
}

// Set exposes the underlying socket set for iteration and direct slot
// management.
func (st *Stack) Set() *Set { return st.set }

// Listener exposes the datagram server-port bookkeeping for pending-peer
// queries (Available, PeekRemote, GetOutgoing).
func (st *Stack) Listener() *Listener { return st.listener }

// Add places a socket into the set and returns its handle.
func (st *Stack) Add(sock Socket) (Handle, error) {
	return st.set.Add(sock)
}

// NewStreamSocket allocates a stream socket with the configured buffer size
// and adds it to the set.
func (st *Stack) NewStreamSocket() (Handle, error) {
	return st.set.Add(NewTCP(st.cfg.BufferSize))
}

// NewDatagramSocket allocates a datagram socket with the configured buffer
// size and adds it to the set.
func (st *Stack) NewDatagramSocket() (Handle, error) {
	return st.set.Add(NewUDP(st.cfg.BufferSize))
}

// Remove frees the slot unconditionally and returns the evicted socket. A
// listening socket loses its port and any pending peers with the slot.
func (st *Stack) Remove(h Handle) (Socket, error) {
	sock, err := st.set.Remove(h)
	if err != nil {
		return nil, err
	}
	st.listener.Unbind(h)
	return sock, nil
}

// Get returns the socket occupying the handle's slot.
func (st *Stack) Get(h Handle) (Socket, error) {
	return st.set.Get(h)
}

// Connect starts a stream connection attempt and emits the connect
// directive. Legal only on a closed stream socket. Completion arrives later
// as ConnectConfirmed or ConnectFailed.
func (st *Stack) Connect(h Handle, remote netip.AddrPort) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	tcp, err := AsTCP(sock)
	if err != nil {
		return err
	}
	now := st.clock()
	if err := tcp.connect(now, remote); err != nil {
		return errors.Wrapf(err, "connect %s", h)
	}
	if err := st.tr.RequestConnect(h, remote); err != nil {
		// The attempt never reached the modem; roll the socket back. The
		// caller gets the failure here, so none is retained on the socket.
		tcp.resetAttempt(now)
		return errors.Wrapf(err, "connect %s", h)
	}
	return nil
}

// Bind opens a datagram socket and emits the open directive. A zero port
// requests an ephemeral port from the modem.
func (st *Stack) Bind(h Handle, localPort uint16) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	udp, err := AsUDP(sock)
	if err != nil {
		return err
	}
	now := st.clock()
	if err := udp.open(now, localPort); err != nil {
		return errors.Wrapf(err, "bind %s", h)
	}
	if err := st.tr.RequestOpenDatagram(h, localPort); err != nil {
		udp.resetAttempt(now)
		return errors.Wrapf(err, "bind %s", h)
	}
	return nil
}

// Listen binds a datagram socket as a server on port and emits the open
// directive. Datagrams arriving on the port from peers no socket matches
// spawn connection sockets, dequeued with Accept.
func (st *Stack) Listen(h Handle, port uint16) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	udp, err := AsUDP(sock)
	if err != nil {
		return err
	}
	if port == 0 {
		return errors.Wrapf(ErrInvalidState, "listen %s needs an explicit port", h)
	}
	if err := st.listener.Bind(h, port); err != nil {
		return errors.Wrapf(err, "listen %s", h)
	}
	now := st.clock()
	if err := udp.open(now, port); err != nil {
		st.listener.Unbind(h)
		return errors.Wrapf(err, "listen %s", h)
	}
	if err := st.tr.RequestOpenDatagram(h, port); err != nil {
		st.listener.Unbind(h)
		udp.resetAttempt(now)
		return errors.Wrapf(err, "listen %s", h)
	}
	return nil
}

// Accept dequeues the next pending peer on a listening socket: the handle
// of the connection socket spawned for it and the peer's endpoint.
func (st *Stack) Accept(h Handle) (Handle, netip.AddrPort, error) {
	return st.listener.GetRemote(h)
}

// Close runs the socket's close transition and emits the close directive.
// The directive is best-effort: a transport failure is logged, not
// returned, because the local state is authoritative.
func (st *Stack) Close(h Handle) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	now := st.clock()
	switch s := sock.(type) {
	case *TCPSocket:
		if err := s.startClose(now); err != nil {
			return errors.Wrapf(err, "close %s", h)
		}
		if terr := st.tr.RequestClose(h); terr != nil {
			st.log.Debug("close directive not delivered",
				zap.Stringer("sock", h), zap.Error(terr))
		}
		s.finishClose(now)
		return nil
	case *UDPSocket:
		if err := s.close(now); err != nil {
			return errors.Wrapf(err, "close %s", h)
		}
		st.listener.Unbind(h)
		if terr := st.tr.RequestClose(h); terr != nil {
			st.log.Debug("close directive not delivered",
				zap.Stringer("sock", h), zap.Error(terr))
		}
		return nil
	default:
		return errors.Wrapf(ErrInvalidState, "close %s", h)
	}
}

// Send hands payload for a connected stream socket to the modem. Legal only
// while connected.
func (st *Stack) Send(h Handle, p []byte) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	tcp, err := AsTCP(sock)
	if err != nil {
		return errors.Wrap(ErrInvalidState, "datagram socket requires SendTo")
	}
	if !tcp.canSend() {
		return errors.Wrapf(ErrNotConnected, "send %s in state %s", h, tcp.State())
	}
	if err := st.tr.RequestSend(h, p); err != nil {
		return errors.Wrapf(err, "send %s", h)
	}
	tcp.noteSend(st.clock())
	return nil
}

// SendTo hands one datagram to the modem. Legal only while open.
func (st *Stack) SendTo(h Handle, remote netip.AddrPort, p []byte) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	udp, err := AsUDP(sock)
	if err != nil {
		return errors.Wrap(ErrInvalidState, "stream socket requires Send")
	}
	if !udp.canSend() {
		return errors.Wrapf(ErrNotConnected, "sendto %s in state %s", h, udp.State())
	}
	if err := st.tr.RequestSendTo(h, remote, p); err != nil {
		return errors.Wrapf(err, "sendto %s", h)
	}
	udp.noteSend(st.clock(), remote)
	return nil
}

// Recv dequeues up to max buffered bytes. For datagram sockets one whole
// datagram is dequeued and the sender discarded; use RecvFrom to keep it.
// An empty result with nil error means nothing is pending yet.
func (st *Stack) Recv(h Handle, max int) ([]byte, error) {
	sock, err := st.set.Get(h)
	if err != nil {
		return nil, err
	}
	now := st.clock()
	switch s := sock.(type) {
	case *TCPSocket:
		out, err := s.recv(now, max)
		if err != nil {
			return nil, errors.Wrapf(err, "recv %s", h)
		}
		return out, nil
	case *UDPSocket:
		out, _, err := s.recvFrom(now, max)
		if err != nil {
			return nil, errors.Wrapf(err, "recv %s", h)
		}
		return out, nil
	default:
		return nil, errors.Wrapf(ErrInvalidState, "recv %s", h)
	}
}

// RecvFrom dequeues one whole datagram and its sender endpoint.
func (st *Stack) RecvFrom(h Handle, max int) ([]byte, netip.AddrPort, error) {
	sock, err := st.set.Get(h)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	udp, err := AsUDP(sock)
	if err != nil {
		return nil, netip.AddrPort{}, err
	}
	out, from, err := udp.recvFrom(st.clock(), max)
	if err != nil {
		return nil, netip.AddrPort{}, errors.Wrapf(err, "recvfrom %s", h)
	}
	return out, from, nil
}

// Available returns the number of readable bytes buffered for the socket.
func (st *Stack) Available(h Handle) (int, error) {
	sock, err := st.set.Get(h)
	if err != nil {
		return 0, err
	}
	return sock.Available(), nil
}

// IsConnected reports whether the socket is in its data-capable state:
// connected for stream sockets, open for datagram sockets.
func (st *Stack) IsConnected(h Handle) (bool, error) {
	sock, err := st.set.Get(h)
	if err != nil {
		return false, err
	}
	switch s := sock.(type) {
	case *TCPSocket:
		return s.State() == TCPConnected, nil
	case *UDPSocket:
		return s.State() == UDPOpen, nil
	default:
		return false, nil
	}
}

// TakeError returns the last transport-reported error retained on the
// socket, clearing it. Nil means no error is pending.
func (st *Stack) TakeError(h Handle) error {
	sock, err := st.set.Get(h)
	if err != nil {
		return err
	}
	return sock.TakeError()
}

// Prune reclaims slots whose sockets are terminal, drained, and idle longer
// than idleTimeout.
func (st *Stack) Prune(now time.Time, idleTimeout time.Duration) int {
	return st.set.Prune(now, idleTimeout)
}

// ExpireConnects aborts stream sockets that have been waiting for a
// connection longer than timeout, recording ErrTimeout on each. Returns the
// number of sockets expired.
func (st *Stack) ExpireConnects(now time.Time, timeout time.Duration) int {
	expired := 0
	st.set.Iter(func(h Handle, sock Socket) bool {
		if tcp, ok := sock.(*TCPSocket); ok && tcp.expireConnect(now, timeout) {
			expired++
		}
		return true
	})
	return expired
}

// DataChecksDue returns the connected stream sockets whose pending-data
// query interval has elapsed. The driver loop uses this to rate-limit
// "how many bytes pending?" commands to the modem.
func (st *Stack) DataChecksDue(now time.Time) []Handle {
	var due []Handle
	st.set.Iter(func(h Handle, sock Socket) bool {
		if tcp, ok := sock.(*TCPSocket); ok && tcp.ShouldPoll(now) {
			due = append(due, h)
		}
		return true
	})
	return due
}

// FindByEndpoint resolves a handle from a peer endpoint by scanning the
// set in slot order. Returns NoHandle when no socket matches.
func (st *Stack) FindByEndpoint(ep netip.AddrPort) Handle {
	found := NoHandle
	st.set.Iter(func(h Handle, sock Socket) bool {
		if sock.RemoteEndpoint() == ep {
			found = h
			return false
		}
		return true
	})
	return found
}

// HandleEvent applies one transport notification to the socket it targets.
// Events for unknown handles, and events a socket's current state does not
// expect, are silently dropped: they are benign races with local intents,
// not errors.
func (st *Stack) HandleEvent(ev Event) {
	h := ev.Sock()
	if h == NoHandle {
		if d, ok := ev.(DataAvailable); ok && d.From.IsValid() {
			h = st.FindByEndpoint(d.From)
		}
	}
	sock, err := st.set.Get(h)
	if err != nil {
		if d, ok := ev.(DataAvailable); ok && st.listener.IsPortBound(d.Port) {
			st.acceptIncoming(st.clock(), d)
			return
		}
		st.log.Debug("event for unknown socket", zap.Stringer("sock", h))
		return
	}
	now := st.clock()

	applied := false
	switch e := ev.(type) {
	case ConnectConfirmed:
		if tcp, ok := sock.(*TCPSocket); ok {
			applied = tcp.confirm(now)
		}
	case ConnectFailed:
		if tcp, ok := sock.(*TCPSocket); ok {
			applied = tcp.connectFailed(now, e.Reason)
		}
	case DataAvailable:
		switch s := sock.(type) {
		case *TCPSocket:
			if s.State() == TCPConnected {
				s.enqueue(now, e.Data)
				applied = true
			}
		case *UDPSocket:
			if s.State() == UDPOpen {
				s.enqueue(now, e.From, e.Data)
				applied = true
			}
		}
	case RemoteClosedByPeer:
		if tcp, ok := sock.(*TCPSocket); ok {
			applied = tcp.closedByRemote(now)
		}
	case Aborted:
		applied = sock.abort(now, e.Reason)
		if applied {
			st.listener.Unbind(h)
		}
	case PortAssigned:
		if udp, ok := sock.(*UDPSocket); ok {
			applied = udp.assignPort(now, e.Port)
		}
	}
	if !applied {
		st.log.Debug("stale event dropped",
			zap.Stringer("sock", h),
			zap.String("event", eventName(ev)))
	}
}

// acceptIncoming spawns a connection socket for a datagram that arrived on
// a listening port from a peer no existing socket matches, and queues the
// peer for Accept. The datagram lands in the new socket's buffer.
func (st *Stack) acceptIncoming(now time.Time, d DataAvailable) {
	conn := NewUDP(st.cfg.BufferSize)
	h, err := st.set.Add(conn)
	if err != nil {
		st.log.Debug("incoming peer dropped",
			zap.Uint16("port", d.Port),
			zap.Stringer("from", d.From),
			zap.Error(err))
		return
	}
	conn.open(now, d.Port)
	conn.enqueue(now, d.From, d.Data)
	if err := st.listener.Push(d.Port, h, d.From); err != nil {
		st.set.Remove(h)
		return
	}
	st.log.Debug("incoming peer queued",
		zap.Stringer("sock", h),
		zap.Uint16("port", d.Port),
		zap.Stringer("from", d.From))
}

func eventName(ev Event) string {
	switch ev.(type) {
	case ConnectConfirmed:
		return "connect-confirmed"
	case ConnectFailed:
		return "connect-failed"
	case DataAvailable:
		return "data-available"
	case RemoteClosedByPeer:
		return "remote-closed"
	case Aborted:
		return "aborted"
	case PortAssigned:
		return "port-assigned"
	default:
		return "unknown"
	}
}
