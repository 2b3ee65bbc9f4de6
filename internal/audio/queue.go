package audio

import (
	"sync"
	"time"
)

// DefaultQueueSize is the number of buffers held before the oldest is dropped.
const DefaultQueueSize = 100

// frameQueue is the bounded hand-off between the capture thread and
// consumers. push never blocks: when full, the oldest buffer is dropped.
type frameQueue struct {
	mu       sync.Mutex
	bufs     []Buffer
	capacity int

	overruns      uint64
	droppedFrames uint64
}

func newFrameQueue(capacity int) *frameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &frameQueue{capacity: capacity, bufs: make([]Buffer, 0, capacity)}
}

// push appends b and reports whether an older buffer had to be dropped.
func (q *frameQueue) push(b Buffer) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.bufs) >= q.capacity {
		q.overruns++
		q.droppedFrames += uint64(q.bufs[0].Frames)
		q.bufs[0] = Buffer{}
		q.bufs = q.bufs[1:]
		dropped = true
	}
	q.bufs = append(q.bufs, b)
	return dropped
}

// pop removes up to maxFrames frames from the front, splitting a buffer
// when needed. maxFrames <= 0 takes everything.
func (q *frameQueue) pop(maxFrames int) []float32 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []float32
	taken := 0
	for len(q.bufs) > 0 && (maxFrames <= 0 || taken < maxFrames) {
		head := &q.bufs[0]
		want := head.Frames
		if maxFrames > 0 && taken+want > maxFrames {
			want = maxFrames - taken
		}
		n := want * head.Channels
		out = append(out, head.Samples[:n]...)
		taken += want

		if want == head.Frames {
			q.bufs[0] = Buffer{}
			q.bufs = q.bufs[1:]
			continue
		}
		head.Samples = head.Samples[n:]
		head.Frames -= want
		if head.SampleRate > 0 {
			head.Timestamp = head.Timestamp.Add(time.Duration(want) * time.Second / time.Duration(head.SampleRate))
		}
	}
	return out
}

// drain removes and returns every queued buffer.
func (q *frameQueue) drain() []Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.bufs
	q.bufs = make([]Buffer, 0, q.capacity)
	return out
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs)
}

func (q *frameQueue) stats() (overruns, droppedFrames uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overruns, q.droppedFrames
}

func (q *frameQueue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.bufs = q.bufs[:0]
	q.overruns = 0
	q.droppedFrames = 0
}
