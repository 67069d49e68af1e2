package sockets

import "net/netip"

// Transport receives the abstract directives the engine emits when an
// application intent needs hardware action. Implementations format and send
// the actual modem commands; the engine never waits for completion here —
// completion always arrives later as an Event.
//
// A returned error means the directive could not even be handed off (dead
// serial line, malformed argument). It never reports the outcome of the
// operation itself.
type Transport interface {
	RequestConnect(h Handle, remote netip.AddrPort) error
	RequestClose(h Handle) error
	RequestSend(h Handle, p []byte) error
	RequestSendTo(h Handle, remote netip.AddrPort, p []byte) error
	// RequestOpenDatagram opens a datagram socket on the modem. A zero
	// localPort asks the modem to pick an ephemeral one, reported back
	// via PortAssigned.
	RequestOpenDatagram(h Handle, localPort uint16) error
}
