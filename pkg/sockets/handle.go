package sockets

import "strconv"

// Handle identifies a slot in a Set. It equals the slot index, so lookups
// are O(1). A handle is only unique among currently occupied slots: once a
// socket is removed its handle may be reused by a later Add, so callers must
// not keep a handle across a close+remove cycle and expect it to still name
// the old socket.
type Handle int

// NoHandle marks a socket that is not (or no longer) in a set, and events
// that carry an endpoint instead of a handle.
const NoHandle Handle = -1

func (h Handle) String() string {
	if h == NoHandle {
		return "sock(none)"
	}
	return "sock" + strconv.Itoa(int(h))
}
