package signal

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutOfOrder is returned when a sample does not advance the buffer's clock.
var ErrOutOfOrder = errors.New("sample timestamp not after previous sample")

// Buffer is a FIFO of samples bounded by count and, optionally, by age relative
// to the newest sample. Buffer is not safe for concurrent use.
type Buffer struct {
	capacity int
	window   time.Duration
	samples  []Sample
}

// NewBuffer creates a buffer holding at most capacity samples. A positive window
// also evicts samples older than window behind the newest one.
func NewBuffer(capacity int, window time.Duration) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		capacity: capacity,
		window:   window,
		samples:  make([]Sample, 0, capacity),
	}
}

// Push appends s and evicts what falls out of the bounds. Timestamps must be
// strictly increasing.
func (b *Buffer) Push(s Sample) error {
	if n := len(b.samples); n > 0 && !s.Timestamp.After(b.samples[n-1].Timestamp) {
		return fmt.Errorf("%w: %s <= %s", ErrOutOfOrder,
			s.Timestamp.Format(time.RFC3339Nano), b.samples[n-1].Timestamp.Format(time.RFC3339Nano))
	}

	b.samples = append(b.samples, s)

	drop := 0
	if over := len(b.samples) - b.capacity; over > 0 {
		drop = over
	}
	if b.window > 0 {
		cutoff := s.Timestamp.Add(-b.window)
		for drop < len(b.samples) && b.samples[drop].Timestamp.Before(cutoff) {
			drop++
		}
	}
	if drop > 0 {
		n := copy(b.samples, b.samples[drop:])
		b.samples = b.samples[:n]
	}
	return nil
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// Cap returns the count bound.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Snapshot returns a copy of all buffered samples, oldest first.
func (b *Buffer) Snapshot() []Sample {
	out := make([]Sample, len(b.samples))
	copy(out, b.samples)
	return out
}

// Last returns a copy of the newest n samples, or all of them when fewer are held.
func (b *Buffer) Last(n int) []Sample {
	if n > len(b.samples) {
		n = len(b.samples)
	}
	if n < 0 {
		n = 0
	}
	out := make([]Sample, n)
	copy(out, b.samples[len(b.samples)-n:])
	return out
}

// Latest returns the newest sample.
func (b *Buffer) Latest() (Sample, bool) {
	if len(b.samples) == 0 {
		return Sample{}, false
	}
	return b.samples[len(b.samples)-1], true
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.samples = b.samples[:0]
}
