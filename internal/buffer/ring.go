package buffer

import (
	"sync"

	"anpr-recorder/internal/domain/anpr"
)

// Ring is a fixed-capacity rolling buffer of the most recent frames.
// Pushes evict the oldest frame once capacity is reached. Safe for
// concurrent use; Snapshot copies under the lock so a drain can never
// interleave with an eviction.
type Ring struct {
	mu     sync.Mutex
	frames []anpr.Frame
	head   int
	size   int
}

// New creates a ring holding up to seconds*fps frames.
func New(seconds, fps int) *Ring {
	capacity := seconds * fps
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{frames: make([]anpr.Frame, capacity)}
}

func (r *Ring) Capacity() int {
	return len(r.frames)
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Push appends a frame, evicting the oldest one when full. O(1).
func (r *Ring) Push(f anpr.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.frames) {
		r.frames[(r.head+r.size)%len(r.frames)] = f
		r.size++
		return
	}
	r.frames[r.head] = f
	r.head = (r.head + 1) % len(r.frames)
}

// Snapshot returns the buffered frames oldest-first. The returned slice is
// a copy; subsequent pushes do not affect it.
func (r *Ring) Snapshot() []anpr.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]anpr.Frame, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.frames[(r.head+i)%len(r.frames)]
	}
	return out
}
