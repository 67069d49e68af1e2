package modemsim

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"
	"time"

	"AT-SOCK/pkg/sockets"
)

func newRig() (*sockets.Stack, *Modem) {
	modem := New(nil)
	clk := time.Unix(2_000_000, 0)
	st := sockets.NewStack(sockets.Config{
		MaxSockets: 4,
		BufferSize: 64,
		Clock:      func() time.Time { return clk },
	}, modem, nil)
	return st, modem
}

func TestStreamEcho(t *testing.T) {
	st, modem := newRig()
	peer := netip.MustParseAddrPort("93.184.216.34:7")

	h, err := st.NewStreamSocket()
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Connect(h, peer); err != nil {
		t.Fatalf("Connect = %v", err)
	}
	// Nothing happens until the event queue is drained.
	if ok, _ := st.IsConnected(h); ok {
		t.Fatal("connected before Flush")
	}
	if n := modem.Flush(st); n != 1 {
		t.Fatalf("Flush = %d, want 1", n)
	}
	if ok, _ := st.IsConnected(h); !ok {
		t.Fatal("not connected after Flush")
	}

	if err := st.Send(h, []byte("hello")); err != nil {
		t.Fatalf("Send = %v", err)
	}
	modem.Flush(st)
	data, err := st.Recv(h, 64)
	if err != nil || !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("echo = (%q, %v), want hello", data, err)
	}
}

func TestRefusedConnect(t *testing.T) {
	st, modem := newRig()
	peer := netip.MustParseAddrPort("10.9.9.9:80")
	modem.Refuse(peer, "connection refused")

	h, _ := st.NewStreamSocket()
	if err := st.Connect(h, peer); err != nil {
		t.Fatalf("Connect = %v", err)
	}
	modem.Flush(st)
	if ok, _ := st.IsConnected(h); ok {
		t.Fatal("refused connect reported connected")
	}
	if err := st.TakeError(h); !errors.Is(err, sockets.ErrConnectFailed) {
		t.Fatalf("TakeError = %v, want ErrConnectFailed", err)
	}
}

func TestPeerCloseAndDrain(t *testing.T) {
	st, modem := newRig()
	peer := netip.MustParseAddrPort("93.184.216.34:7")
	h, _ := st.NewStreamSocket()
	st.Connect(h, peer)
	modem.Flush(st)

	st.Send(h, []byte("bye"))
	modem.CloseByPeer(h)
	modem.Flush(st)

	// Send refused, but the echoed bytes are still drainable.
	if err := st.Send(h, []byte("more")); !errors.Is(err, sockets.ErrNotConnected) {
		t.Fatalf("Send after peer close err = %v, want ErrNotConnected", err)
	}
	data, err := st.Recv(h, 64)
	if err != nil || !bytes.Equal(data, []byte("bye")) {
		t.Fatalf("drain = (%q, %v)", data, err)
	}
}

func TestDatagramEchoWithEphemeralPort(t *testing.T) {
	st, modem := newRig()
	peer := netip.MustParseAddrPort("10.1.1.1:9000")

	h, _ := st.NewDatagramSocket()
	if err := st.Bind(h, 0); err != nil {
		t.Fatalf("Bind = %v", err)
	}
	modem.Flush(st)

	sock, _ := st.Get(h)
	udp, err := sockets.AsUDP(sock)
	if err != nil {
		t.Fatal(err)
	}
	if udp.LocalPort() < firstEphemeralPort {
		t.Fatalf("LocalPort = %d, want an ephemeral assignment", udp.LocalPort())
	}

	if err := st.SendTo(h, peer, []byte("ping")); err != nil {
		t.Fatalf("SendTo = %v", err)
	}
	modem.Flush(st)
	data, from, err := st.RecvFrom(h, 64)
	if err != nil || !bytes.Equal(data, []byte("ping")) || from != peer {
		t.Fatalf("RecvFrom = (%q, %s, %v)", data, from, err)
	}
}

func TestListeningServerAcceptsPeer(t *testing.T) {
	st, modem := newRig()
	peer := netip.MustParseAddrPort("10.4.4.4:9000")

	srv, _ := st.NewDatagramSocket()
	if err := st.Listen(srv, 7000); err != nil {
		t.Fatalf("Listen = %v", err)
	}

	modem.DeliverTo(7000, peer, []byte("hi"))
	modem.Flush(st)

	conn, from, err := st.Accept(srv)
	if err != nil || from != peer {
		t.Fatalf("Accept = (%s, %s, %v)", conn, from, err)
	}
	data, rfrom, err := st.RecvFrom(conn, 64)
	if err != nil || !bytes.Equal(data, []byte("hi")) || rfrom != peer {
		t.Fatalf("RecvFrom = (%q, %s, %v)", data, rfrom, err)
	}

	// The connection socket replies like any open datagram socket.
	if err := st.SendTo(conn, peer, []byte("welcome")); err != nil {
		t.Fatalf("SendTo on accepted socket = %v", err)
	}
}

func TestAbortInjection(t *testing.T) {
	st, modem := newRig()
	peer := netip.MustParseAddrPort("93.184.216.34:7")
	h, _ := st.NewStreamSocket()
	st.Connect(h, peer)
	modem.Flush(st)

	modem.Abort(h, "carrier lost")
	modem.Flush(st)
	if ok, _ := st.IsConnected(h); ok {
		t.Fatal("socket survived abort")
	}
	if err := st.TakeError(h); !errors.Is(err, sockets.ErrAborted) {
		t.Fatalf("TakeError = %v, want ErrAborted", err)
	}
}
