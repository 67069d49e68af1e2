// Package modemsim is an in-process stand-in for the AT command engine and
// the modem behind it. Directives are acknowledged immediately by queuing
// the matching event; nothing is delivered until the owner calls Flush, so
// the asynchronous gap between intent and notification is preserved. The
// simulated peer echoes whatever it is sent.
package modemsim

import (
	"net/netip"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"AT-SOCK/pkg/sockets"
)

const firstEphemeralPort = 49152

var _ sockets.Transport = (*Modem)(nil)

// Modem implements sockets.Transport against a loopback peer.
type Modem struct {
	events   *queue.Queue
	refused  map[netip.AddrPort]string
	nextPort uint16
	log      *zap.Logger
}

func New(log *zap.Logger) *Modem {
	if log == nil {
		log = zap.NewNop()
	}
	return &Modem{
		events:   queue.New(),
		refused:  make(map[netip.AddrPort]string),
		nextPort: firstEphemeralPort,
		log:      log,
	}
}

// Refuse makes future connect attempts to ep fail with the given reason.
func (m *Modem) Refuse(ep netip.AddrPort, reason string) {
	m.refused[ep] = reason
}

func (m *Modem) push(ev sockets.Event) {
	m.events.Add(ev)
}

// RequestConnect queues ConnectConfirmed, or ConnectFailed for refused
// endpoints.
func (m *Modem) RequestConnect(h sockets.Handle, remote netip.AddrPort) error {
	if reason, ok := m.refused[remote]; ok {
		m.push(sockets.ConnectFailed{Handle: h, Reason: reason})
		return nil
	}
	m.push(sockets.ConnectConfirmed{Handle: h})
	return nil
}

// RequestClose is fire-and-forget; the simulated modem never reports close
// completion, matching real modems where the close URC is optional.
func (m *Modem) RequestClose(h sockets.Handle) error {
	m.log.Debug("sim close", zap.Stringer("sock", h))
	return nil
}

// RequestSend echoes the payload back as inbound data.
func (m *Modem) RequestSend(h sockets.Handle, p []byte) error {
	data := make([]byte, len(p))
	copy(data, p)
	m.push(sockets.DataAvailable{Handle: h, Data: data})
	return nil
}

// RequestSendTo echoes the datagram back from the destination endpoint.
func (m *Modem) RequestSendTo(h sockets.Handle, remote netip.AddrPort, p []byte) error {
	data := make([]byte, len(p))
	copy(data, p)
	m.push(sockets.DataAvailable{Handle: h, Data: data, From: remote})
	return nil
}

// RequestOpenDatagram queues PortAssigned when an ephemeral port was asked
// for.
func (m *Modem) RequestOpenDatagram(h sockets.Handle, localPort uint16) error {
	if localPort == 0 {
		localPort = m.nextPort
		m.nextPort++
		m.push(sockets.PortAssigned{Handle: h, Port: localPort})
	}
	return nil
}

// Abort injects a fatal transport error for the socket.
func (m *Modem) Abort(h sockets.Handle, reason string) {
	m.push(sockets.Aborted{Handle: h, Reason: reason})
}

// CloseByPeer injects a remote shutdown for the socket.
func (m *Modem) CloseByPeer(h sockets.Handle) {
	m.push(sockets.RemoteClosedByPeer{Handle: h})
}

// Deliver injects an arbitrary inbound datagram, as if a peer sent one.
func (m *Modem) Deliver(h sockets.Handle, from netip.AddrPort, p []byte) {
	m.push(sockets.DataAvailable{Handle: h, Data: p, From: from})
}

// DeliverTo injects a datagram addressed to a local port rather than a
// known socket, as incoming traffic for a listening server.
func (m *Modem) DeliverTo(port uint16, from netip.AddrPort, p []byte) {
	m.push(sockets.DataAvailable{Handle: sockets.NoHandle, Data: p, From: from, Port: port})
}

// Pending returns the number of queued, undelivered events.
func (m *Modem) Pending() int { return m.events.Length() }

// Flush delivers every queued event to the stack in arrival order and
// returns how many were delivered.
func (m *Modem) Flush(st *sockets.Stack) int {
	n := 0
	for m.events.Length() > 0 {
		ev := m.events.Remove().(sockets.Event)
		st.HandleEvent(ev)
		n++
	}
	return n
}
