package liveness

import "github.com/soilnet/soilnet/internal/model"

// ReadingBuffer is a fixed-capacity FIFO of the most recent readings for
// one node. It serves moving statistics and "recent points" queries without
// touching the history store. Not safe for concurrent use; it is owned by
// the tracker loop.
type ReadingBuffer struct {
	buf   []model.Reading
	start int // index of the oldest element
	count int
}

func NewReadingBuffer(capacity int) *ReadingBuffer {
	if capacity <= 0 {
		capacity = BufferCapacity
	}
	return &ReadingBuffer{buf: make([]model.Reading, capacity)}
}

// Append inserts a reading, evicting the oldest once capacity is exceeded.
func (b *ReadingBuffer) Append(r model.Reading) {
	if b.count < len(b.buf) {
		b.buf[(b.start+b.count)%len(b.buf)] = r
		b.count++
		return
	}
	b.buf[b.start] = r
	b.start = (b.start + 1) % len(b.buf)
}

func (b *ReadingBuffer) Len() int { return b.count }

// Readings returns the buffered readings oldest first, as a copy.
func (b *ReadingBuffer) Readings() []model.Reading {
	out := make([]model.Reading, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.buf[(b.start+i)%len(b.buf)]
	}
	return out
}

// Newest returns the most recently appended reading.
func (b *ReadingBuffer) Newest() (model.Reading, bool) {
	if b.count == 0 {
		return model.Reading{}, false
	}
	return b.buf[(b.start+b.count-1)%len(b.buf)], true
}

// AvgHumidity is the moving average over the buffered window; 0 when empty.
func (b *ReadingBuffer) AvgHumidity() float64 {
	if b.count == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < b.count; i++ {
		sum += b.buf[(b.start+i)%len(b.buf)].HumidityPercent
	}
	return sum / float64(b.count)
}
