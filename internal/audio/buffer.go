package audio

import (
	"sync"
)

// RingBuffer is a thread-safe, fixed-capacity buffer that keeps the most
// recent bytes written to it. Writing past capacity overwrites the oldest
// data.
type RingBuffer struct {
	buffer []byte
	size   int
	start  int // index of the oldest byte
	length int
	mu     sync.RWMutex
}

// NewRingBuffer creates a new ring buffer with the specified size
func NewRingBuffer(size int) *RingBuffer {
	if size < 0 {
		size = 0
	}
	return &RingBuffer{
		buffer: make([]byte, size),
		size:   size,
	}
}

// Write appends data, discarding the oldest bytes once full. It always
// accepts the whole slice and returns len(data).
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.size == 0 {
		return len(data)
	}
	// only the last size bytes can survive
	src := data
	if len(src) > rb.size {
		src = src[len(src)-rb.size:]
	}

	for _, b := range src {
		end := (rb.start + rb.length) % rb.size
		rb.buffer[end] = b
		if rb.length < rb.size {
			rb.length++
		} else {
			rb.start = (rb.start + 1) % rb.size
		}
	}
	return len(data)
}

// Snapshot returns a copy of the buffered bytes, oldest first.
func (rb *RingBuffer) Snapshot() []byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]byte, rb.length)
	n := copy(out, rb.buffer[rb.start:min(rb.start+rb.length, rb.size)])
	copy(out[n:], rb.buffer[:rb.length-n])
	return out
}

// Clear clears the buffer
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.start = 0
	rb.length = 0
}

// IsEmpty returns true if the buffer is empty
func (rb *RingBuffer) IsEmpty() bool {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.length == 0
}
