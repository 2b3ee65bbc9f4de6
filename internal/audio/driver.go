package audio

import "time"

// Format is the negotiated capture format.
type Format struct {
	SampleRate int
	Channels   int
	// BufferDuration is the driver period. The capture thread polls at a
	// quarter of it when no ready signal arrives.
	BufferDuration time.Duration
}

// DefaultFormat is 16kHz mono with 50ms buffers.
func DefaultFormat() Format {
	return Format{
		SampleRate:     16000,
		Channels:       1,
		BufferDuration: 50 * time.Millisecond,
	}
}

// FramesPerBuffer returns the number of frames in one driver period.
func (f Format) FramesPerBuffer() int {
	n := int(time.Duration(f.SampleRate) * f.BufferDuration / time.Second)
	if n <= 0 {
		return 1
	}
	return n
}

// Driver is the OS audio subsystem: it lists capture endpoints and opens
// capture streams on them.
type Driver interface {
	Devices() ([]Device, error)
	// Open activates a capture client on the device. An empty id selects
	// the system default.
	Open(deviceID string, f Format) (Stream, error)
	Close() error
}

// Stream is one active capture client.
type Stream interface {
	Start() error
	// Ready receives a coalesced signal whenever new frames are buffered.
	Ready() <-chan struct{}
	// Lost is closed if the device disappears while running.
	Lost() <-chan struct{}
	// Read copies up to len(dst) interleaved samples and returns how many
	// were copied. It never blocks.
	Read(dst []int16) int
	// Dropped returns samples discarded by the driver because they were
	// not read in time.
	Dropped() uint64
	Stop() error
	Close() error
}
