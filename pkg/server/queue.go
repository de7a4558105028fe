package server

import "sync"

// outboundQueue is a bounded ring buffer of encoded frames waiting to be
// written to one session's connection. The engine pushes, the session's
// write loop pops; neither ever blocks on the other.
//
// When the buffer is full the oldest frame is dropped and the queue is
// marked for resync. The write loop sees the mark before any remaining
// frames and sends the client a fresh snapshot, so a slow consumer costs
// bounded memory instead of unbounded backlog.
type outboundQueue struct {
	mu       sync.Mutex
	frames   [][]byte
	head     int // Oldest frame position (circular)
	count    int
	capacity int
	resync   bool
	closed   bool
	notify   chan struct{} // Single-slot wakeup for the write loop
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &outboundQueue{
		frames:   make([][]byte, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues a frame, dropping the oldest on overflow. It reports
// whether a frame was dropped. Pushing to a closed queue is a no-op.
func (q *outboundQueue) Push(frame []byte) (dropped bool) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if q.count == q.capacity {
		// Overwrite the oldest entry. The client will miss that
		// update, so it must be resynced from a snapshot.
		q.resync = true
		dropped = true
		q.frames[q.head] = frame
		q.head = (q.head + 1) % q.capacity
	} else {
		q.frames[(q.head+q.count)%q.capacity] = frame
		q.count++
	}
	q.mu.Unlock()

	q.wake()
	return dropped
}

// MarkResync flags the queue so the next Pop reports a pending resync.
func (q *outboundQueue) MarkResync() {
	q.mu.Lock()
	if !q.closed {
		q.resync = true
	}
	q.mu.Unlock()
	q.wake()
}

// Pop dequeues the next frame. resync is reported once, before any queued
// frames, and clears the mark; when it is set the queued frames have been
// discarded and the caller should send a snapshot instead. ok is false
// when the queue is empty or closed.
func (q *outboundQueue) Pop() (frame []byte, resync, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false, false
	}

	if q.resync {
		q.resync = false
		// Anything still queued predates the snapshot the caller is
		// about to send.
		for i := range q.frames {
			q.frames[i] = nil
		}
		q.head = 0
		q.count = 0
		return nil, true, true
	}

	if q.count == 0 {
		return nil, false, false
	}

	frame = q.frames[q.head]
	q.frames[q.head] = nil
	q.head = (q.head + 1) % q.capacity
	q.count--
	return frame, false, true
}

// Len returns the number of queued frames.
func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Notify returns the wakeup channel for the write loop.
func (q *outboundQueue) Notify() <-chan struct{} {
	return q.notify
}

// Close discards all queued frames. Further pushes are ignored.
func (q *outboundQueue) Close() {
	q.mu.Lock()
	q.closed = true
	for i := range q.frames {
		q.frames[i] = nil
	}
	q.count = 0
	q.head = 0
	q.resync = false
	q.mu.Unlock()
	q.wake()
}

// Reopen resets a closed queue for a resumed session.
func (q *outboundQueue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

func (q *outboundQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
