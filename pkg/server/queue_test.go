package server

import (
	"bytes"
	"testing"
)

func TestOutboundQueue_PushPop(t *testing.T) {
	q := newOutboundQueue(4)

	if dropped := q.Push([]byte("a")); dropped {
		t.Error("push into empty queue reported a drop")
	}
	q.Push([]byte("b"))
	if q.Len() != 2 {
		t.Errorf("expected len 2, got %d", q.Len())
	}

	frame, resync, ok := q.Pop()
	if !ok || resync {
		t.Fatalf("Pop() = ok=%v resync=%v, want ok and no resync", ok, resync)
	}
	if !bytes.Equal(frame, []byte("a")) {
		t.Errorf("expected frame a, got %q", frame)
	}

	frame, _, _ = q.Pop()
	if !bytes.Equal(frame, []byte("b")) {
		t.Errorf("expected frame b, got %q", frame)
	}

	if _, _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue reported ok")
	}
}

func TestOutboundQueue_OverflowDropsOldest(t *testing.T) {
	q := newOutboundQueue(3)
	q.Push([]byte("1"))
	q.Push([]byte("2"))
	q.Push([]byte("3"))

	if dropped := q.Push([]byte("4")); !dropped {
		t.Fatal("overflow push did not report a drop")
	}

	// The resync mark surfaces before any frames and empties the queue;
	// the write loop sends a snapshot instead of the stale frames.
	_, resync, ok := q.Pop()
	if !ok || !resync {
		t.Fatalf("Pop() = ok=%v resync=%v, want resync first", ok, resync)
	}
	if q.Len() != 0 {
		t.Errorf("expected queue emptied by resync pop, got len %d", q.Len())
	}

	// The mark reports once.
	if _, resync, ok := q.Pop(); ok || resync {
		t.Errorf("Pop() after resync = ok=%v resync=%v, want empty", ok, resync)
	}
}

func TestOutboundQueue_MarkResync(t *testing.T) {
	q := newOutboundQueue(4)
	q.Push([]byte("stale"))
	q.MarkResync()

	_, resync, ok := q.Pop()
	if !ok || !resync {
		t.Fatalf("Pop() = ok=%v resync=%v, want resync", ok, resync)
	}

	// Frames queued after the mark are delivered normally.
	q.Push([]byte("fresh"))
	frame, resync, ok := q.Pop()
	if !ok || resync {
		t.Fatalf("Pop() = ok=%v resync=%v, want plain frame", ok, resync)
	}
	if !bytes.Equal(frame, []byte("fresh")) {
		t.Errorf("expected frame fresh, got %q", frame)
	}
}

func TestOutboundQueue_Notify(t *testing.T) {
	q := newOutboundQueue(4)

	select {
	case <-q.Notify():
		t.Fatal("notify fired before any push")
	default:
	}

	q.Push([]byte("a"))
	select {
	case <-q.Notify():
	default:
		t.Fatal("notify did not fire after push")
	}
}

func TestOutboundQueue_CloseAndReopen(t *testing.T) {
	q := newOutboundQueue(4)
	q.Push([]byte("a"))
	q.Close()

	if dropped := q.Push([]byte("b")); dropped {
		t.Error("push into closed queue reported a drop")
	}
	if _, _, ok := q.Pop(); ok {
		t.Error("Pop() on closed queue reported ok")
	}
	if q.Len() != 0 {
		t.Errorf("expected closed queue emptied, got len %d", q.Len())
	}

	q.Reopen()
	q.Push([]byte("c"))
	frame, _, ok := q.Pop()
	if !ok || !bytes.Equal(frame, []byte("c")) {
		t.Errorf("Pop() after reopen = %q ok=%v, want frame c", frame, ok)
	}
}

func TestOutboundQueue_OverflowKeepsNewest(t *testing.T) {
	q := newOutboundQueue(2)
	q.Push([]byte("1"))
	q.Push([]byte("2"))
	q.Push([]byte("3"))

	// Drain the resync mark, then confirm nothing stale remains.
	if _, resync, _ := q.Pop(); !resync {
		t.Fatal("expected resync after overflow")
	}
	q.Push([]byte("4"))
	frame, _, _ := q.Pop()
	if !bytes.Equal(frame, []byte("4")) {
		t.Errorf("expected frame 4, got %q", frame)
	}
}
