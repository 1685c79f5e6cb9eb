// Package buffer holds the two queues of the decoder: the sample buffer the
// frame scorer slides over, and a lock-free ring of recently completed text
// lines that telnet clients receive on connect. Each ring slot stores an
// atomic pointer so readers either see a complete line or the previous one,
// never a partially written structure.
package buffer

import (
	"sync/atomic"
	"time"
)

// Line is one decoded line of text, closed by a line feed on the air.
type Line struct {
	ID   uint64
	Time time.Time
	Text string
}

// RingBuffer is a thread-safe circular buffer of recent lines. Writers
// atomically publish completed *Line values, and readers walk backwards
// from the newest index to gather a snapshot.
type RingBuffer struct {
	slots    []atomic.Pointer[Line]
	capacity int
	total    atomic.Uint64 // Total lines added (may exceed capacity)
}

// NewRingBuffer allocates a ring buffer with the specified capacity.
// A non-positive capacity is raised to one slot.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		slots:    make([]atomic.Pointer[Line], capacity),
		capacity: capacity,
	}
}

// Add appends a line to the ring, assigning a monotonic ID so readers can skip
// over stale entries when the buffer wraps.
func (rb *RingBuffer) Add(l *Line) {
	if l == nil {
		return
	}
	newID := rb.total.Add(1)
	l.ID = newID

	idx := (newID - 1) % uint64(rb.capacity)
	rb.slots[idx].Store(l)
}

// Recent returns up to n lines, oldest first, so they can be replayed in
// the order they were received.
func (rb *RingBuffer) Recent(n int) []*Line {
	if n <= 0 {
		return []*Line{}
	}

	total := rb.total.Load()
	available := int(total)
	if available > rb.capacity {
		available = rb.capacity
	}
	if n > available {
		n = available
	}

	result := make([]*Line, 0, n)
	if total == 0 {
		return result
	}
	minIndex := total - uint64(available)
	for idx := total; idx > minIndex && len(result) < n; {
		idx--
		slot := idx % uint64(rb.capacity)
		// ID check skips over slots that have been overwritten after wraparound
		if l := rb.slots[slot].Load(); l != nil && l.ID == idx+1 {
			result = append(result, l)
		}
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result
}

// Count returns the total number of lines added (may be > capacity).
func (rb *RingBuffer) Count() int {
	return int(rb.total.Load())
}
