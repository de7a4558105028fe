package server

import (
	"sync"
	"time"
)

// historyEntry stores a broadcast update frame for potential replay.
type historyEntry struct {
	Version uint64    // World version the frame carries
	Frame   []byte    // Pre-encoded FrameUpdate for fast replay
	SentAt  time.Time // When the frame was broadcast
}

// UpdateHistory is a thread-safe ring buffer of recently broadcast update
// frames, keyed by world version. A reconnecting client that missed only
// a few versions is caught up by replaying frames from here instead of
// receiving a full snapshot.
//
// The ring overwrites oldest entries when full, maintaining a sliding
// window of recent updates. Versions are assigned consecutively by the
// engine, so the buffer always holds a contiguous version range.
type UpdateHistory struct {
	mu         sync.RWMutex
	entries    []*historyEntry
	head       int // Next write position (circular)
	count      int
	capacity   int
	minVersion uint64 // Lowest version in buffer
	maxVersion uint64 // Highest version in buffer
}

// NewUpdateHistory creates a history ring buffer with the given capacity.
func NewUpdateHistory(capacity int) *UpdateHistory {
	if capacity <= 0 {
		capacity = 256
	}
	return &UpdateHistory{
		entries:  make([]*historyEntry, capacity),
		capacity: capacity,
	}
}

// Add stores a broadcast frame. The frame bytes are shared, not copied;
// callers must not mutate them after Add.
func (h *UpdateHistory) Add(version uint64, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.head] = &historyEntry{
		Version: version,
		Frame:   frame,
		SentAt:  time.Now(),
	}
	h.head = (h.head + 1) % h.capacity

	if h.count < h.capacity {
		h.count++
	}

	h.maxVersion = version
	if h.count == 1 {
		h.minVersion = version
	} else if h.count == h.capacity {
		// Buffer full; the oldest entry is the one head now points at.
		if oldest := h.entries[h.head]; oldest != nil {
			h.minVersion = oldest.Version
		}
	}
}

// Replay returns frames for versions (afterVersion, maxVersion] in order.
// A client that is already at maxVersion gets an empty, non-nil slice:
// nothing to replay, no snapshot needed. Returns nil if any version in
// the range has been overwritten, or if afterVersion is beyond anything
// recorded, in which case the caller must fall back to a full snapshot.
func (h *UpdateHistory) Replay(afterVersion uint64) [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || afterVersion > h.maxVersion {
		return nil
	}
	if afterVersion == h.maxVersion {
		return [][]byte{}
	}
	if afterVersion+1 < h.minVersion {
		return nil // Gap: oldest needed version already overwritten
	}

	frames := make([][]byte, 0, h.maxVersion-afterVersion)
	for i := 0; i < h.count; i++ {
		idx := (h.head - h.count + i + h.capacity) % h.capacity
		entry := h.entries[idx]
		if entry != nil && entry.Version > afterVersion {
			frames = append(frames, entry.Frame)
		}
	}
	return frames
}

// CanRecover reports whether Replay would succeed for a client that last
// applied lastVersion.
func (h *UpdateHistory) CanRecover(lastVersion uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return false
	}
	return lastVersion+1 >= h.minVersion && lastVersion <= h.maxVersion
}

// MinVersion returns the lowest replayable version.
func (h *UpdateHistory) MinVersion() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.minVersion
}

// MaxVersion returns the highest version in the buffer.
func (h *UpdateHistory) MaxVersion() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxVersion
}

// Count returns the number of entries in the buffer.
func (h *UpdateHistory) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Clear removes all entries from the buffer.
func (h *UpdateHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.entries {
		h.entries[i] = nil
	}
	h.head = 0
	h.count = 0
	h.minVersion = 0
	h.maxVersion = 0
}
