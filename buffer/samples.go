package buffer

// SampleBuffer is an append-only queue of oversampled bits. Consumers read
// fixed windows from the front and discard a prefix once a frame has been
// matched. Discards only move the head index; the backing array is compacted
// when the dead prefix outgrows the live samples, so prefix removal stays
// O(1) amortized.
//
// A SampleBuffer is owned by a single decode loop and is not safe for
// concurrent use.
type SampleBuffer struct {
	data []byte
	head int
}

// NewSampleBuffer allocates a buffer with room for capacity samples before the
// first growth.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &SampleBuffer{data: make([]byte, 0, capacity)}
}

// Append adds samples to the tail in arrival order.
func (b *SampleBuffer) Append(samples ...byte) {
	if len(samples) == 0 {
		return
	}
	b.compact(len(samples))
	b.data = append(b.data, samples...)
}

// Len returns the number of live samples.
func (b *SampleBuffer) Len() int {
	return len(b.data) - b.head
}

// Window returns a view of n samples starting at off. The view aliases the
// buffer and is only valid until the next Append or Discard.
func (b *SampleBuffer) Window(off, n int) []byte {
	start := b.head + off
	return b.data[start : start+n : start+n]
}

// Samples returns a view of every live sample.
func (b *SampleBuffer) Samples() []byte {
	return b.data[b.head:len(b.data):len(b.data)]
}

// Discard drops the first n samples. It clamps to the live length so the
// buffer never goes negative.
func (b *SampleBuffer) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= b.Len() {
		b.data = b.data[:0]
		b.head = 0
		return
	}
	b.head += n
}

// Reset empties the buffer while keeping the allocation.
func (b *SampleBuffer) Reset() {
	b.data = b.data[:0]
	b.head = 0
}

// compact slides live samples to the front when the dead prefix is at least
// as large as the live region and the pending append would otherwise grow the
// backing array.
func (b *SampleBuffer) compact(incoming int) {
	if b.head == 0 {
		return
	}
	live := b.Len()
	if b.head < live && len(b.data)+incoming <= cap(b.data) {
		return
	}
	n := copy(b.data, b.data[b.head:])
	b.data = b.data[:n]
	b.head = 0
}
