package align

import "math"

// StreamBuffer maintains a bounded history of samples for one stream.
// When full, the oldest sample is evicted first. Timestamps are expected to
// be near-monotonic but strictly increasing order is not required; lookups
// scan the window rather than assuming order.
//
// StreamBuffer is not safe for concurrent use; the engine serializes access.
type StreamBuffer struct {
	samples  []StreamSample
	capacity int
	head     int // next write position
	size     int
	evicted  uint64
}

// DefaultBufferCapacity bounds per-stream history when no capacity is
// configured.
const DefaultBufferCapacity = 100

// NewStreamBuffer creates a buffer with the specified capacity. Capacities
// below 1 fall back to DefaultBufferCapacity.
func NewStreamBuffer(capacity int) *StreamBuffer {
	if capacity < 1 {
		capacity = DefaultBufferCapacity
	}
	return &StreamBuffer{
		samples:  make([]StreamSample, capacity),
		capacity: capacity,
	}
}

// Add appends a sample, evicting the oldest if the buffer is at capacity.
func (b *StreamBuffer) Add(s StreamSample) {
	if b.size == b.capacity {
		b.evicted++
	}
	b.samples[b.head] = s
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Closest returns the sample minimizing |timestamp - target| when that
// distance is within tolerance. The boolean is false when the buffer is
// empty or no sample is close enough; absence is never an error.
func (b *StreamBuffer) Closest(target, tolerance float64) (StreamSample, bool) {
	if b.size == 0 {
		return StreamSample{}, false
	}

	best := -1
	bestDiff := math.Inf(1)
	for i := 0; i < b.size; i++ {
		idx := (b.head - b.size + i + b.capacity) % b.capacity
		diff := math.Abs(b.samples[idx].Timestamp - target)
		if diff < bestDiff {
			bestDiff = diff
			best = idx
		}
	}

	if best < 0 || bestDiff > tolerance {
		return StreamSample{}, false
	}
	return b.samples[best], true
}

// Latest returns the most recent n samples, newest last. Fewer are returned
// when the buffer holds fewer; nil when empty or n < 1.
func (b *StreamBuffer) Latest(n int) []StreamSample {
	if n < 1 || b.size == 0 {
		return nil
	}
	if n > b.size {
		n = b.size
	}

	result := make([]StreamSample, n)
	for i := 0; i < n; i++ {
		idx := (b.head - n + i + b.capacity) % b.capacity
		result[i] = b.samples[idx]
	}
	return result
}

// Clear drops all samples. Used on stream reset; eviction counts survive.
func (b *StreamBuffer) Clear() {
	for i := range b.samples {
		b.samples[i] = StreamSample{}
	}
	b.head = 0
	b.size = 0
}

// Len returns the current number of buffered samples.
func (b *StreamBuffer) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *StreamBuffer) Cap() int {
	return b.capacity
}

// Evicted returns the total number of samples evicted since creation.
func (b *StreamBuffer) Evicted() uint64 {
	return b.evicted
}
