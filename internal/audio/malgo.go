package audio

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// driverRingBuffers is how many driver periods the callback ring can hold
// before the oldest frames are dropped.
const driverRingBuffers = 20

// MalgoDriver captures from the OS audio subsystem through miniaudio.
type MalgoDriver struct {
	ctx *malgo.AllocatedContext

	mu  sync.Mutex
	ids map[string]malgo.DeviceID
}

// NewMalgoDriver initializes a miniaudio context with realtime callback
// priority. Call Close when done.
func NewMalgoDriver() (*MalgoDriver, error) {
	cfg := malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}
	ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		slog.Debug("[AUDIO] miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: initializing audio context: %v", ErrDevice, err)
	}
	return &MalgoDriver{ctx: ctx, ids: make(map[string]malgo.DeviceID)}, nil
}

// Devices lists capture endpoints.
func (d *MalgoDriver) Devices() ([]Device, error) {
	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("listing capture devices: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		id := info.ID.String()
		d.ids[id] = info.ID
		devices = append(devices, Device{
			ID:        id,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
			State:     DeviceActive,
		})
	}
	return devices, nil
}

// Open creates a capture device delivering signed 16-bit frames.
func (d *MalgoDriver) Open(deviceID string, f Format) (Stream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = uint32(f.BufferDuration / time.Millisecond)

	if deviceID != "" {
		d.mu.Lock()
		id, ok := d.ids[deviceID]
		d.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, deviceID)
		}
		cfg.Capture.DeviceID = id.Pointer()
	}

	s := &malgoStream{
		ring: newSampleRing(f.FramesPerBuffer()*driverRingBuffers, f.Channels),
		lost: make(chan struct{}),
	}

	device, err := malgo.InitDevice(d.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing capture device: %w", err)
	}
	s.device = device
	return s, nil
}

// Close releases the miniaudio context.
func (d *MalgoDriver) Close() error {
	if d.ctx == nil {
		return nil
	}
	if err := d.ctx.Uninit(); err != nil {
		return fmt.Errorf("uninitializing audio context: %w", err)
	}
	d.ctx.Free()
	d.ctx = nil
	return nil
}

type malgoStream struct {
	device *malgo.Device
	ring   *sampleRing

	lost     chan struct{}
	lostOnce sync.Once
	stopping atomic.Bool
}

func (s *malgoStream) Start() error {
	s.stopping.Store(false)
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("starting capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) Ready() <-chan struct{} { return s.ring.ready }
func (s *malgoStream) Lost() <-chan struct{}  { return s.lost }
func (s *malgoStream) Read(dst []int16) int   { return s.ring.read(dst) }
func (s *malgoStream) Dropped() uint64        { return s.ring.dropped.Load() }

func (s *malgoStream) Stop() error {
	s.stopping.Store(true)
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("stopping capture device: %w", err)
	}
	return nil
}

func (s *malgoStream) Close() error {
	s.stopping.Store(true)
	s.device.Uninit()
	return nil
}

// onData runs on the miniaudio callback thread. pSample holds frameCount
// interleaved little-endian int16 frames.
func (s *malgoStream) onData(_, pSample []byte, frameCount uint32) {
	if n := int(frameCount) * s.ring.channels * 2; n < len(pSample) {
		pSample = pSample[:n]
	}
	s.ring.writeLE(pSample)
}

// onStop fires when miniaudio stops the device. Unless we asked for it,
// the device went away.
func (s *malgoStream) onStop() {
	if s.stopping.Load() {
		return
	}
	s.lostOnce.Do(func() { close(s.lost) })
}
