package sockets

import "net/netip"

// Event is a typed notification from the modem transport. Each event names
// the socket it targets by handle; DataAvailable may instead carry only the
// sender endpoint (Handle == NoHandle) and is then resolved by scanning the
// set. Delivering an event for an unknown or removed handle is a no-op, not
// an error: it may be a benign race between a local close and a
// notification already in flight.
type Event interface {
	Sock() Handle
}

// ConnectConfirmed reports that the modem established a stream connection.
type ConnectConfirmed struct {
	Handle Handle
}

func (e ConnectConfirmed) Sock() Handle { return e.Handle }

// ConnectFailed reports that a connect attempt failed on the modem.
type ConnectFailed struct {
	Handle Handle
	Reason string
}

func (e ConnectFailed) Sock() Handle { return e.Handle }

// DataAvailable carries inbound payload read off the modem. From is the
// sender endpoint; it is meaningful for datagram sockets and may be used to
// resolve the target when Handle is NoHandle. Port, when nonzero, is the
// local destination port; a datagram no socket matches is offered to the
// listener bound on that port.
type DataAvailable struct {
	Handle Handle
	Data   []byte
	From   netip.AddrPort
	Port   uint16
}

func (e DataAvailable) Sock() Handle { return e.Handle }

// RemoteClosedByPeer reports that the peer closed its side of a stream
// connection.
type RemoteClosedByPeer struct {
	Handle Handle
}

func (e RemoteClosedByPeer) Sock() Handle { return e.Handle }

// Aborted reports a fatal transport error on the socket.
type Aborted struct {
	Handle Handle
	Reason string
}

func (e Aborted) Sock() Handle { return e.Handle }

// PortAssigned completes a datagram open that requested an ephemeral port.
type PortAssigned struct {
	Handle Handle
	Port   uint16
}

func (e PortAssigned) Sock() Handle { return e.Handle }
