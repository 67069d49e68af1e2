package sockets

import (
	"net/netip"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
)

// pendingConn is one not-yet-accepted datagram peer queued on a server
// port: the connection socket allocated for it and the peer's endpoint.
type pendingConn struct {
	handle Handle
	remote netip.AddrPort
}

// Listener tracks datagram server ports. A server socket binds a port; as
// peers show up, connection sockets are queued per port until the
// application accepts them. This is host-side bookkeeping only — the modem
// owns the actual port.
type Listener struct {
	// server socket handle -> bound port
	ports map[Handle]uint16
	// bound port -> FIFO of pending peers
	conns map[uint16]*queue.Queue
}

func NewListener() *Listener {
	return &Listener{
		ports: make(map[Handle]uint16),
		conns: make(map[uint16]*queue.Queue),
	}
}

// Bind registers the server socket on a port. A socket can bind only once
// and a port can be bound by only one socket.
func (l *Listener) Bind(h Handle, port uint16) error {
	if _, ok := l.ports[h]; ok {
		return errors.Wrapf(ErrInvalidState, "%s already bound", h)
	}
	if _, ok := l.conns[port]; ok {
		return errors.Wrapf(ErrInvalidState, "port %d already bound", port)
	}
	l.ports[h] = port
	l.conns[port] = queue.New()
	return nil
}

// Unbind drops the server socket's port and any pending peers on it.
func (l *Listener) Unbind(h Handle) {
	port, ok := l.ports[h]
	if !ok {
		return
	}
	delete(l.ports, h)
	delete(l.conns, port)
}

// IsBound reports whether the socket is a bound server socket.
func (l *Listener) IsBound(h Handle) bool {
	_, ok := l.ports[h]
	return ok
}

// IsPortBound reports whether the port is a bound server port.
func (l *Listener) IsPortBound(port uint16) bool {
	_, ok := l.conns[port]
	return ok
}

// Push queues an incoming peer on a bound port. The handle names the
// connection socket allocated for the peer.
func (l *Listener) Push(port uint16, h Handle, remote netip.AddrPort) error {
	q, ok := l.conns[port]
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "port %d not bound", port)
	}
	q.Add(pendingConn{handle: h, remote: remote})
	return nil
}

// Available reports whether the server socket has a pending peer.
func (l *Listener) Available(h Handle) (bool, error) {
	q, err := l.queueFor(h)
	if err != nil {
		return false, err
	}
	return q.Length() > 0, nil
}

// PeekRemote returns the first pending peer without dequeuing it.
func (l *Listener) PeekRemote(h Handle) (Handle, netip.AddrPort, error) {
	q, err := l.queueFor(h)
	if err != nil {
		return NoHandle, netip.AddrPort{}, err
	}
	if q.Length() == 0 {
		return NoHandle, netip.AddrPort{}, errors.Wrapf(ErrNotConnected, "no pending peer on %s", h)
	}
	p := q.Peek().(pendingConn)
	return p.handle, p.remote, nil
}

// GetRemote dequeues and returns the first pending peer.
func (l *Listener) GetRemote(h Handle) (Handle, netip.AddrPort, error) {
	q, err := l.queueFor(h)
	if err != nil {
		return NoHandle, netip.AddrPort{}, err
	}
	if q.Length() == 0 {
		return NoHandle, netip.AddrPort{}, errors.Wrapf(ErrNotConnected, "no pending peer on %s", h)
	}
	p := q.Remove().(pendingConn)
	return p.handle, p.remote, nil
}

// GetOutgoing dequeues the first pending peer only if it matches addr.
// Used when replying: the reply goes out on the connection socket that was
// allocated for exactly that peer.
func (l *Listener) GetOutgoing(h Handle, addr netip.AddrPort) (Handle, bool) {
	q, err := l.queueFor(h)
	if err != nil || q.Length() == 0 {
		return NoHandle, false
	}
	p := q.Peek().(pendingConn)
	if p.remote != addr {
		return NoHandle, false
	}
	q.Remove()
	return p.handle, true
}

func (l *Listener) queueFor(h Handle) (*queue.Queue, error) {
	port, ok := l.ports[h]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s not bound", h)
	}
	q, ok := l.conns[port]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidHandle, "port %d not bound", port)
	}
	return q, nil
}
