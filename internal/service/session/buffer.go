package session

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBufferLimit is returned when buffering a chunk would exceed the limit.
var ErrBufferLimit = errors.New("audio buffer limit exceeded")

// AudioBuffer holds audio received before the upstream is ready, in arrival
// order. It is drained exactly once; appends after the drain are refused.
type AudioBuffer struct {
	mu       sync.Mutex
	chunks   [][]byte
	bytes    int
	maxBytes int
	drained  bool
}

// NewAudioBuffer creates a buffer. maxBytes <= 0 means unbounded.
func NewAudioBuffer(maxBytes int) *AudioBuffer {
	return &AudioBuffer{maxBytes: maxBytes}
}

// Append stores a copy of chunk.
func (b *AudioBuffer) Append(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return errors.New("audio buffer already drained")
	}
	if b.maxBytes > 0 && b.bytes+len(chunk) > b.maxBytes {
		return fmt.Errorf("%w: %d + %d > %d", ErrBufferLimit, b.bytes, len(chunk), b.maxBytes)
	}

	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.chunks = append(b.chunks, c)
	b.bytes += len(c)
	return nil
}

// Drain returns all buffered chunks in arrival order and empties the buffer.
// Only the first call returns data.
func (b *AudioBuffer) Drain() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.drained {
		return nil
	}
	b.drained = true
	out := b.chunks
	b.chunks = nil
	b.bytes = 0
	return out
}

// Len returns the number of buffered chunks.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

// Bytes returns the number of buffered bytes.
func (b *AudioBuffer) Bytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes
}

// Clear discards buffered audio without marking the buffer drained.
func (b *AudioBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks = nil
	b.bytes = 0
}
