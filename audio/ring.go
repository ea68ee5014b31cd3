package audio

import "sync"

// FrameRing is a bounded FIFO of PCM frames that drops the oldest
// frame when full. The uplink parks frames here while the session
// handshake is still in flight, so a user who starts talking early is
// not silently lost and a stalled handshake cannot grow memory.
type FrameRing struct {
	mu     sync.Mutex
	frames [][]byte
	cap    int
}

func NewFrameRing(capacity int) *FrameRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameRing{cap: capacity}
}

// Push appends a frame, evicting the oldest one if the ring is full.
// Reports how many frames were dropped (0 or 1).
func (r *FrameRing) Push(frame []byte) (dropped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == r.cap {
		r.frames = r.frames[1:]
		dropped = 1
	}
	r.frames = append(r.frames, frame)
	return dropped
}

// Drain removes and returns all buffered frames, oldest first.
func (r *FrameRing) Drain() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.frames
	r.frames = nil
	return out
}

func (r *FrameRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}
