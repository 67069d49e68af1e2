package sockets

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

var testPeer = netip.MustParseAddrPort("10.0.0.1:80")

func TestSetAddRemoveReuse(t *testing.T) {
	s := NewSet(2, nil)

	h0, err := s.Add(NewTCP(64))
	if err != nil || h0 != 0 {
		t.Fatalf("first Add = (%s, %v), want (sock0, nil)", h0, err)
	}
	h1, err := s.Add(NewTCP(64))
	if err != nil || h1 != 1 {
		t.Fatalf("second Add = (%s, %v), want (sock1, nil)", h1, err)
	}
	if _, err := s.Add(NewTCP(64)); !errors.Is(err, ErrNoAvailableSockets) {
		t.Fatalf("third Add err = %v, want ErrNoAvailableSockets", err)
	}
	if s.Len() != 2 || s.Capacity() != 2 {
		t.Fatalf("Len/Capacity = %d/%d, want 2/2", s.Len(), s.Capacity())
	}

	if _, err := s.Remove(h0); err != nil {
		t.Fatalf("Remove(%s) = %v", h0, err)
	}
	h2, err := s.Add(NewUDP(64))
	if err != nil || h2 != 0 {
		t.Fatalf("Add after Remove = (%s, %v), want reuse of sock0", h2, err)
	}
}

func TestSetGetInvalidHandles(t *testing.T) {
	s := NewSet(2, nil)
	for _, h := range []Handle{NoHandle, 0, 1, 7} {
		if _, err := s.Get(h); !errors.Is(err, ErrInvalidHandle) {
			t.Fatalf("Get(%s) err = %v, want ErrInvalidHandle", h, err)
		}
	}
	h, _ := s.Add(NewTCP(64))
	if _, err := s.Get(h); err != nil {
		t.Fatalf("Get(%s) = %v", h, err)
	}
	if _, err := s.Remove(h); err != nil {
		t.Fatalf("Remove(%s) = %v", h, err)
	}
	if _, err := s.Remove(h); !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("double Remove err = %v, want ErrInvalidHandle", err)
	}
}

func TestSetRemoveIsForced(t *testing.T) {
	s := NewSet(1, nil)
	sock := NewTCP(64)
	h, _ := s.Add(sock)
	now := time.Unix(1000, 0)
	sock.connect(now, testPeer)
	sock.confirm(now)

	// Remove frees the slot regardless of lifecycle state.
	got, err := s.Remove(h)
	if err != nil {
		t.Fatalf("Remove of connected socket = %v", err)
	}
	if got.Handle() != NoHandle {
		t.Fatalf("removed socket handle = %s, want NoHandle", got.Handle())
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestSetIterSlotOrder(t *testing.T) {
	s := NewSet(4, nil)
	for i := 0; i < 3; i++ {
		s.Add(NewTCP(64))
	}
	s.Remove(1)

	var seen []Handle
	s.Iter(func(h Handle, sock Socket) bool {
		seen = append(seen, h)
		return true
	})
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Fatalf("Iter visited %v, want [sock0 sock2]", seen)
	}

	// Early stop.
	count := 0
	s.Iter(func(h Handle, sock Socket) bool {
		count++
		return false
	})
	if count != 1 {
		t.Fatalf("Iter with early stop visited %d, want 1", count)
	}
}

func TestSetPruneRules(t *testing.T) {
	base := time.Unix(1000, 0)
	idle := time.Minute
	s := NewSet(8, nil)

	// A socket that was used and closed, idle past the timeout: stale.
	staleClosed := NewTCP(64)
	hStale, _ := s.Add(staleClosed)
	staleClosed.connect(base, testPeer)
	staleClosed.startClose(base)
	staleClosed.finishClose(base)

	// A freshly added socket has seen no activity yet and is never
	// reclaimed, no matter how old the set thinks it is.
	fresh := NewTCP(64)
	hFresh, _ := s.Add(fresh)

	connected := NewTCP(64)
	s.Add(connected)
	connected.connect(base, testPeer)
	connected.confirm(base)

	connecting := NewTCP(64)
	s.Add(connecting)
	connecting.connect(base, testPeer)

	openUDP := NewUDP(64)
	s.Add(openUDP)
	openUDP.open(base, 7000)

	remoteClosed := NewTCP(64)
	hRC, _ := s.Add(remoteClosed)
	remoteClosed.connect(base, testPeer)
	remoteClosed.confirm(base)
	remoteClosed.enqueue(base, []byte("tail"))
	remoteClosed.closedByRemote(base)

	now := base.Add(time.Hour)
	if n := s.Prune(now, idle); n != 1 {
		t.Fatalf("Prune = %d, want 1 (only the stale closed socket)", n)
	}
	if _, err := s.Get(hStale); !errors.Is(err, ErrInvalidHandle) {
		t.Fatal("stale closed socket should be gone")
	}
	if _, err := s.Get(hFresh); err != nil {
		t.Fatal("freshly added socket must survive prune")
	}
	if _, err := s.Get(hRC); err != nil {
		t.Fatal("remote-closed socket with undrained buffer must survive prune")
	}

	// Drain the remote-closed socket; once idle again it becomes prunable.
	remoteClosed.recv(now, 16)
	if n := s.Prune(now, idle); n != 0 {
		t.Fatalf("Prune right after drain = %d, want 0", n)
	}
	later := now.Add(2 * time.Minute)
	if n := s.Prune(later, idle); n != 1 {
		t.Fatalf("Prune after idle = %d, want 1", n)
	}

	// Active sockets are never pruned regardless of age.
	if n := s.Prune(base.Add(1000*time.Hour), idle); n != 0 {
		t.Fatalf("Prune removed active sockets: %d", n)
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4 (connected, connecting, open udp, fresh)", s.Len())
	}
}

func TestSetPruneSparesFreshSockets(t *testing.T) {
	s := NewSet(2, nil)
	hs, _ := s.Add(NewTCP(64))
	hu, _ := s.Add(NewUDP(64))

	// A maintenance prune can run between Add and the first Connect/Bind;
	// a socket nobody has touched yet must keep its slot.
	if n := s.Prune(time.Now(), time.Minute); n != 0 {
		t.Fatalf("Prune reclaimed %d freshly added sockets", n)
	}
	if _, err := s.Get(hs); err != nil {
		t.Fatalf("fresh stream socket gone: %v", err)
	}
	if _, err := s.Get(hu); err != nil {
		t.Fatalf("fresh datagram socket gone: %v", err)
	}
}
