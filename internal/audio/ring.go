package audio

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

// sampleRing is the driver-side buffer between an OS callback and the
// capture thread. Writes drop the oldest whole frames when full.
type sampleRing struct {
	channels int

	mu    sync.Mutex
	data  []int16
	start int
	size  int

	dropped atomic.Uint64
	ready   chan struct{}
}

func newSampleRing(frames, channels int) *sampleRing {
	if channels <= 0 {
		channels = 1
	}
	if frames <= 0 {
		frames = 1
	}
	return &sampleRing{
		channels: channels,
		data:     make([]int16, frames*channels),
		ready:    make(chan struct{}, 1),
	}
}

// write stores whole frames from src and signals readiness.
func (r *sampleRing) write(src []int16) {
	frames := len(src) / r.channels

	r.mu.Lock()
	for f := 0; f < frames; f++ {
		r.makeRoomLocked()
		for c := 0; c < r.channels; c++ {
			r.data[(r.start+r.size)%len(r.data)] = src[f*r.channels+c]
			r.size++
		}
	}
	r.mu.Unlock()
	r.signal()
}

// writeLE decodes little-endian int16 frames from b straight into the ring.
// It runs on the OS callback thread and does not allocate.
func (r *sampleRing) writeLE(b []byte) {
	frames := len(b) / 2 / r.channels

	r.mu.Lock()
	for f := 0; f < frames; f++ {
		r.makeRoomLocked()
		for c := 0; c < r.channels; c++ {
			i := (f*r.channels + c) * 2
			r.data[(r.start+r.size)%len(r.data)] = int16(binary.LittleEndian.Uint16(b[i:]))
			r.size++
		}
	}
	r.mu.Unlock()
	r.signal()
}

// makeRoomLocked drops the oldest frame when there is no room for one more.
func (r *sampleRing) makeRoomLocked() {
	if len(r.data)-r.size < r.channels {
		r.start = (r.start + r.channels) % len(r.data)
		r.size -= r.channels
		r.dropped.Add(uint64(r.channels))
	}
}

func (r *sampleRing) signal() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// read copies whole frames into dst and returns the sample count.
func (r *sampleRing) read(dst []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(r.size, len(dst))
	n -= n % r.channels
	for i := 0; i < n; i++ {
		dst[i] = r.data[(r.start+i)%len(r.data)]
	}
	r.start = (r.start + n) % len(r.data)
	r.size -= n
	return n
}
