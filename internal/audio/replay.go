package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ReplayDriver is a Driver that plays back prepared audio instead of a
// microphone. It paces delivery like a real device, optionally sped up,
// and supports unplugging devices to simulate loss.
type ReplayDriver struct {
	// Speed multiplies the delivery rate. Values <= 1 mean realtime.
	Speed float64

	mu      sync.Mutex
	devices []Device
	sources map[string]*Buffer
	streams map[string][]*replayStream
	last    *replayStream
}

// NewReplayDriver creates a driver exposing devices. If none is marked
// default, the first one is.
func NewReplayDriver(devices ...Device) *ReplayDriver {
	d := &ReplayDriver{
		sources: make(map[string]*Buffer),
		streams: make(map[string][]*replayStream),
	}
	hasDefault := false
	for _, dev := range devices {
		hasDefault = hasDefault || dev.IsDefault
	}
	for i, dev := range devices {
		if !hasDefault && i == 0 {
			dev.IsDefault = true
		}
		d.devices = append(d.devices, dev)
	}
	return d
}

// SetSource sets the audio the device plays back. Without a source a
// device delivers silence indefinitely.
func (d *ReplayDriver) SetSource(deviceID string, buf *Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[deviceID] = buf
}

// Plug adds a device.
func (d *ReplayDriver) Plug(dev Device) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, dev)
}

// Unplug removes a device and signals loss on any stream open on it.
func (d *ReplayDriver) Unplug(deviceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, dev := range d.devices {
		if dev.ID == deviceID {
			d.devices = append(d.devices[:i], d.devices[i+1:]...)
			break
		}
	}
	for _, s := range d.streams[deviceID] {
		s.lostOnce.Do(func() { close(s.lost) })
	}
	delete(d.streams, deviceID)
}

func (d *ReplayDriver) Devices() ([]Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Device, len(d.devices))
	copy(out, d.devices)
	return out, nil
}

func (d *ReplayDriver) Open(deviceID string, f Format) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if deviceID == "" {
		for _, dev := range d.devices {
			if dev.IsDefault {
				deviceID = dev.ID
				break
			}
		}
	}
	found := false
	for _, dev := range d.devices {
		if dev.ID == deviceID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, deviceID)
	}

	var source []int16
	if buf := d.sources[deviceID]; buf != nil {
		source = Float32ToInt16(convertFormat(buf, f))
	}

	period := f.BufferDuration
	if d.Speed > 1 {
		period = time.Duration(float64(period) / d.Speed)
	}
	if period <= 0 {
		period = time.Millisecond
	}

	s := &replayStream{
		format:  f,
		period:  period,
		source:  source,
		silent:  source == nil,
		ring:    newSampleRing(f.FramesPerBuffer()*driverRingBuffers, f.Channels),
		lost:    make(chan struct{}),
		quit:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	d.streams[deviceID] = append(d.streams[deviceID], s)
	d.last = s
	return s, nil
}

func (d *ReplayDriver) Close() error {
	d.mu.Lock()
	streams := d.streams
	d.streams = make(map[string][]*replayStream)
	d.mu.Unlock()
	for _, list := range streams {
		for _, s := range list {
			_ = s.Stop()
		}
	}
	return nil
}

// WaitDrained blocks until the most recently opened stream has delivered
// its whole source.
func (d *ReplayDriver) WaitDrained(ctx context.Context) error {
	d.mu.Lock()
	s := d.last
	d.mu.Unlock()
	if s == nil {
		return fmt.Errorf("audio: no replay stream opened")
	}
	select {
	case <-s.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delivered returns the number of frames the most recent stream has handed
// to the capture side.
func (d *ReplayDriver) Delivered() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return 0
	}
	return d.last.delivered.Load()
}

// convertFormat adapts buf to the stream's rate and channel count.
func convertFormat(buf *Buffer, f Format) []float32 {
	samples := buf.Samples
	if buf.Channels == f.Channels && buf.SampleRate == f.SampleRate {
		return samples
	}
	mono := Downmix(samples, buf.Channels)
	mono = Resample(mono, buf.SampleRate, f.SampleRate)
	return Upmix(mono, f.Channels)
}

type replayStream struct {
	format Format
	period time.Duration
	source []int16
	silent bool
	pos    int

	ring      *sampleRing
	delivered atomic.Uint64

	lost      chan struct{}
	lostOnce  sync.Once
	quit      chan struct{}
	quitOnce  sync.Once
	drained   chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
}

func (s *replayStream) Start() error {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
	return nil
}

func (s *replayStream) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	chunk := s.format.FramesPerBuffer() * s.format.Channels
	for {
		select {
		case <-s.quit:
			return
		case <-s.lost:
			return
		case <-ticker.C:
		}

		if s.silent {
			s.ring.write(make([]int16, chunk))
			s.delivered.Add(uint64(chunk / s.format.Channels))
			continue
		}

		end := min(s.pos+chunk, len(s.source))
		if s.pos < end {
			s.ring.write(s.source[s.pos:end])
			s.delivered.Add(uint64((end - s.pos) / s.format.Channels))
			s.pos = end
		}
		if s.pos >= len(s.source) {
			close(s.drained)
			return
		}
	}
}

func (s *replayStream) Ready() <-chan struct{} { return s.ring.ready }
func (s *replayStream) Lost() <-chan struct{}  { return s.lost }
func (s *replayStream) Read(dst []int16) int   { return s.ring.read(dst) }
func (s *replayStream) Dropped() uint64        { return s.ring.dropped.Load() }

func (s *replayStream) Stop() error {
	s.quitOnce.Do(func() { close(s.quit) })
	s.wg.Wait()
	return nil
}

func (s *replayStream) Close() error {
	return s.Stop()
}
