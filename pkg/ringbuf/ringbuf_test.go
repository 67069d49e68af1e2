package ringbuf

import (
	"bytes"
	"errors"
	"testing"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	b := New(8)
	n, err := b.Enqueue([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("Enqueue = (%d, %v), want (3, nil)", n, err)
	}
	if b.Len() != 3 || b.Capacity() != 8 {
		t.Fatalf("Len/Capacity = %d/%d, want 3/8", b.Len(), b.Capacity())
	}
	got := b.Dequeue(2)
	if !bytes.Equal(got, []byte("ab")) {
		t.Fatalf("Dequeue(2) = %q, want \"ab\"", got)
	}
	got = b.Dequeue(10)
	if !bytes.Equal(got, []byte("c")) {
		t.Fatalf("Dequeue(10) = %q, want \"c\"", got)
	}
	if !b.IsEmpty() {
		t.Fatal("buffer should be empty after draining")
	}
	if got := b.Dequeue(4); len(got) != 0 {
		t.Fatalf("Dequeue on empty = %q, want empty", got)
	}
}

func TestWraparoundKeepsOrder(t *testing.T) {
	b := New(4)
	// Fill, drain partially, refill so the write cursor wraps.
	b.Enqueue([]byte("abcd"))
	b.Dequeue(3)
	if n, err := b.Enqueue([]byte("efg")); err != nil || n != 3 {
		t.Fatalf("Enqueue after wrap = (%d, %v), want (3, nil)", n, err)
	}
	if got := b.Dequeue(4); !bytes.Equal(got, []byte("defg")) {
		t.Fatalf("Dequeue = %q, want \"defg\"", got)
	}
}

func TestPartialAcceptOnOverflow(t *testing.T) {
	b := New(4)
	n, err := b.Enqueue([]byte("abcdef"))
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("err = %v, want ErrBufferFull", err)
	}
	if n != 4 {
		t.Fatalf("accepted = %d, want 4", n)
	}
	// Already-stored bytes must survive untouched.
	if got := b.Dequeue(6); !bytes.Equal(got, []byte("abcd")) {
		t.Fatalf("Dequeue = %q, want \"abcd\"", got)
	}
}

func TestEnqueueWhenFull(t *testing.T) {
	b := New(2)
	b.Enqueue([]byte("xy"))
	if !b.IsFull() {
		t.Fatal("buffer should report full")
	}
	n, err := b.Enqueue([]byte("z"))
	if n != 0 || !errors.Is(err, ErrBufferFull) {
		t.Fatalf("Enqueue on full = (%d, %v), want (0, ErrBufferFull)", n, err)
	}
	if got := b.Dequeue(2); !bytes.Equal(got, []byte("xy")) {
		t.Fatalf("stored bytes corrupted: %q", got)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	b := New(8)
	b.Enqueue([]byte("hello"))
	if got := b.Peek(3); !bytes.Equal(got, []byte("hel")) {
		t.Fatalf("Peek(3) = %q, want \"hel\"", got)
	}
	if b.Len() != 5 {
		t.Fatalf("Len after Peek = %d, want 5", b.Len())
	}
	if got := b.Dequeue(5); !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("Dequeue after Peek = %q", got)
	}
}

func TestClearAndFree(t *testing.T) {
	b := New(4)
	b.Enqueue([]byte("ab"))
	if b.Free() != 2 {
		t.Fatalf("Free = %d, want 2", b.Free())
	}
	b.Clear()
	if !b.IsEmpty() || b.Free() != 4 {
		t.Fatalf("after Clear: empty=%v free=%d", b.IsEmpty(), b.Free())
	}
}

func TestEmptyEnqueueIsNoop(t *testing.T) {
	b := New(2)
	if n, err := b.Enqueue(nil); n != 0 || err != nil {
		t.Fatalf("Enqueue(nil) = (%d, %v)", n, err)
	}
}
