package ringbuf

import (
	"github.com/pkg/errors"
	"github.com/smallnest/ringbuffer"
)

// ErrBufferFull is returned by Enqueue when the buffer could not take the
// whole input. The bytes that did fit are kept; the count of accepted bytes
// is returned alongside the error.
var ErrBufferFull = errors.New("ring buffer full")

// Buffer is a fixed-capacity circular byte queue used for socket receive
// buffering. It never grows, never blocks, and never silently drops data:
// an enqueue that does not fit reports exactly how much was accepted.
type Buffer struct {
	inner *ringbuffer.RingBuffer
	size  int
}

// New creates a buffer holding at most capacity bytes. Capacity must be
// positive; a non-positive capacity is a programming error.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{
		inner: ringbuffer.New(capacity),
		size:  capacity,
	}
}

// Enqueue appends p to the buffer.
//
// Overflow policy: partial accept. As many bytes as fit are stored in FIFO
// order and the accepted count is returned; if the whole input did not fit
// the error is ErrBufferFull and the caller stays responsible for the
// unaccepted tail p[n:].
func (b *Buffer) Enqueue(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := b.inner.Write(p)
	if b.inner.Length() > b.size {
		// The backing buffer never reallocates, so this can only mean
		// internal cursor corruption.
		panic("ringbuf: length exceeds capacity")
	}
	if err != nil {
		return n, errors.Wrapf(ErrBufferFull, "accepted %d of %d bytes", n, len(p))
	}
	return n, nil
}

// Dequeue removes and returns up to max bytes in FIFO order. It returns
// fewer if fewer are buffered, and nil when the buffer is empty.
func (b *Buffer) Dequeue(max int) []byte {
	if max <= 0 || b.inner.IsEmpty() {
		return nil
	}
	if l := b.inner.Length(); l < max {
		max = l
	}
	out := make([]byte, max)
	n, err := b.inner.Read(out)
	if err != nil {
		return nil
	}
	return out[:n]
}

// Peek returns up to max buffered bytes without consuming them.
func (b *Buffer) Peek(max int) []byte {
	if max <= 0 || b.inner.IsEmpty() {
		return nil
	}
	all := b.inner.Bytes(nil)
	if len(all) > max {
		all = all[:max]
	}
	return all
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.inner.Length() }

// Capacity returns the fixed total capacity.
func (b *Buffer) Capacity() int { return b.size }

// Free returns the remaining space.
func (b *Buffer) Free() int { return b.inner.Free() }

func (b *Buffer) IsFull() bool  { return b.inner.IsFull() }
func (b *Buffer) IsEmpty() bool { return b.inner.IsEmpty() }

// Clear discards all buffered bytes.
func (b *Buffer) Clear() { b.inner.Reset() }
