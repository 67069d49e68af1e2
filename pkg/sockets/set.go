package sockets

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Set is a bounded, ordered collection of socket slots. It owns allocation,
// lookup, iteration and pruning; the handle of a socket is its slot index.
// The set is driven from a single execution context and uses no locks.
type Set struct {
	slots []Socket
	log   *zap.Logger
}

// NewSet creates a set with the given fixed slot count.
func NewSet(capacity int, log *zap.Logger) *Set {
	if capacity <= 0 {
		panic("sockets: set capacity must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Set{
		slots: make([]Socket, capacity),
		log:   log,
	}
}

// Capacity returns the fixed slot count.
func (s *Set) Capacity() int { return len(s.slots) }

// Len returns the number of occupied slots.
func (s *Set) Len() int {
	n := 0
	for _, slot := range s.slots {
		if slot != nil {
			n++
		}
	}
	if n > len(s.slots) {
		panic("sockets: occupied slots exceed capacity")
	}
	return n
}

// Add places the socket into the lowest free slot and assigns its handle.
// Returns ErrNoAvailableSockets when every slot is occupied; existing slots
// are never overwritten.
func (s *Set) Add(sock Socket) (Handle, error) {
	for i, slot := range s.slots {
		if slot == nil {
			h := Handle(i)
			sock.setHandle(h)
			sock.setLogger(s.log)
			s.slots[i] = sock
			s.log.Debug("socket added",
				zap.Stringer("sock", h),
				zap.Stringer("type", sock.Type()),
				zap.Int("occupied", s.Len()))
			return h, nil
		}
	}
	return NoHandle, ErrNoAvailableSockets
}

// Get returns the socket occupying the handle's slot.
func (s *Set) Get(h Handle) (Socket, error) {
	if int(h) < 0 || int(h) >= len(s.slots) {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s", h)
	}
	sock := s.slots[h]
	if sock == nil {
		return nil, errors.Wrapf(ErrInvalidHandle, "%s is empty", h)
	}
	return sock, nil
}

// Remove frees the slot unconditionally, regardless of lifecycle state, and
// returns the evicted socket. This is the only path that frees a slot for
// reuse; callers wanting a graceful shutdown close the socket first.
func (s *Set) Remove(h Handle) (Socket, error) {
	sock, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	s.slots[h] = nil
	sock.setHandle(NoHandle)
	s.log.Debug("socket removed", zap.Stringer("sock", h))
	return sock, nil
}

// Iter calls fn for each occupied slot in slot-index order until fn returns
// false. Used to route events keyed by endpoint rather than handle, and by
// pruning.
func (s *Set) Iter(fn func(Handle, Socket) bool) {
	for i, slot := range s.slots {
		if slot == nil {
			continue
		}
		if !fn(Handle(i), slot) {
			return
		}
	}
}

// Prune removes sockets that are reclaimable: terminal state, idle longer
// than idleTimeout, with nothing left to drain. It never touches an active
// connection. Returns the number of slots reclaimed.
func (s *Set) Prune(now time.Time, idleTimeout time.Duration) int {
	pruned := 0
	for i, slot := range s.slots {
		if slot == nil {
			continue
		}
		if slot.recycle(now, idleTimeout) {
			h := Handle(i)
			s.slots[i] = nil
			slot.setHandle(NoHandle)
			pruned++
			s.log.Debug("socket pruned", zap.Stringer("sock", h))
		}
	}
	return pruned
}
