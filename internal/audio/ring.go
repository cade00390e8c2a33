package audio

import (
	"sync"
	"time"
)

// DefaultSampleRate is the rate engines expect.
const DefaultSampleRate = 16000

// Ring is a fixed-capacity buffer of mono float samples. When full, the
// oldest samples are overwritten first.
type Ring struct {
	mu         sync.Mutex
	data       []float32
	start      int
	length     int
	sampleRate int
	dropped    uint64
}

// NewRing allocates a ring holding at most maxSeconds of audio at sampleRate.
func NewRing(sampleRate int, maxSeconds float64) *Ring {
	capacity := int(float64(sampleRate) * maxSeconds)
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		data:       make([]float32, capacity),
		sampleRate: sampleRate,
	}
}

// Append copies samples into the ring, evicting the oldest ones beyond capacity.
func (r *Ring) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.data)
	if len(samples) >= capacity {
		r.dropped += uint64(r.length + len(samples) - capacity)
		copy(r.data, samples[len(samples)-capacity:])
		r.start = 0
		r.length = capacity
		return
	}

	end := (r.start + r.length) % capacity
	n := copy(r.data[end:], samples)
	copy(r.data, samples[n:])

	r.length += len(samples)
	if r.length > capacity {
		overflow := r.length - capacity
		r.dropped += uint64(overflow)
		r.start = (r.start + overflow) % capacity
		r.length = capacity
	}
}

// Snapshot returns a copy of the most recent samples covering at most d.
// A non-positive d returns the whole buffer.
func (r *Ring) Snapshot(d time.Duration) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.length
	if d > 0 {
		if want := int(d.Seconds() * float64(r.sampleRate)); want < n {
			n = want
		}
	}
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	capacity := len(r.data)
	from := (r.start + r.length - n) % capacity
	copied := copy(out, r.data[from:min(from+n, capacity)])
	copy(out[copied:], r.data[:n-copied])
	return out
}

// Clear drops all buffered samples.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.length = 0
	r.dropped = 0
}

// Len returns the number of buffered samples.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// Cap returns the maximum number of samples the ring can hold.
func (r *Ring) Cap() int {
	return len(r.data)
}

// Duration returns the amount of audio currently buffered.
func (r *Ring) Duration() time.Duration {
	return Duration(r.Len(), r.sampleRate)
}

// Dropped reports how many samples were evicted since the last Clear.
func (r *Ring) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// SampleRate returns the rate the ring was created with.
func (r *Ring) SampleRate() int {
	return r.sampleRate
}

// Duration converts a sample count at sampleRate into wall time.
func Duration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
