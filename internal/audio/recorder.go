package audio

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/voicecore/internal/dsp"
	"github.com/chaz8081/voicecore/internal/events"
)

// State is the recording session state.
type State int

const (
	Idle State = iota
	Recording
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds recorder settings.
type Config struct {
	Format       Format
	QueueSize    int
	DeviceID     string // empty selects the system default
	Processing   dsp.Settings
	VADThreshold float32
	VADHangover  time.Duration
}

// DefaultConfig returns 16kHz mono capture with a 100-buffer queue.
func DefaultConfig() Config {
	return Config{
		Format:       DefaultFormat(),
		QueueSize:    DefaultQueueSize,
		Processing:   dsp.DefaultSettings(),
		VADThreshold: dsp.DefaultVADThreshold,
		VADHangover:  dsp.DefaultVADHangover,
	}
}

// Stats are capture counters for the current or last session.
type Stats struct {
	FramesCaptured uint64
	// FramesDropped counts frames lost to queue overflow and driver overruns.
	FramesDropped uint64
	// Overruns counts queue overflow events.
	Overruns uint64
	// AverageLatency is the mean time from pulling a block off the driver
	// to queueing it.
	AverageLatency time.Duration
	QueuedBuffers  int
}

// OverrunErr returns an error wrapping ErrBufferOverrun when any audio was
// dropped, for reporting after a session.
func (s Stats) OverrunErr() error {
	if s.Overruns == 0 && s.FramesDropped == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d overruns, %d frames dropped", ErrBufferOverrun, s.Overruns, s.FramesDropped)
}

// Recorder is the capture engine. It owns one capture session at a time
// against a Driver and runs a dedicated OS thread that converts, processes
// and queues incoming audio without ever blocking on consumers.
type Recorder struct {
	driver  Driver
	devices *DeviceManager
	cfg     Config

	chain *dsp.Chain
	meter dsp.LevelMeter
	vad   *dsp.VAD
	queue *frameQueue
	bus   *events.Bus

	paused   atomic.Bool
	captured atomic.Uint64
	latSum   atomic.Int64
	latCount atomic.Int64

	mu      sync.Mutex
	state   State
	device  Device
	stream  Stream
	stopCh  chan struct{}
	done    chan struct{}
	haltErr error
	closed  bool
}

// NewRecorder creates a recorder on driver. Call Initialize before use and
// Close when done. The driver is not closed by the recorder.
func NewRecorder(driver Driver, cfg Config) *Recorder {
	if cfg.Format.SampleRate <= 0 {
		cfg.Format.SampleRate = DefaultFormat().SampleRate
	}
	if cfg.Format.Channels <= 0 {
		cfg.Format.Channels = 1
	}
	if cfg.Format.BufferDuration <= 0 {
		cfg.Format.BufferDuration = DefaultFormat().BufferDuration
	}
	return &Recorder{
		driver:  driver,
		devices: NewDeviceManager(driver),
		cfg:     cfg,
		chain:   dsp.NewChain(cfg.Processing),
		vad:     dsp.NewVAD(cfg.VADThreshold, cfg.VADHangover),
		queue:   newFrameQueue(cfg.QueueSize),
		bus:     events.NewBus(0),
	}
}

// Initialize enumerates devices and resolves the configured (or default)
// capture device.
func (r *Recorder) Initialize() error {
	if r.cfg.DeviceID != "" {
		if _, err := r.devices.Select(r.cfg.DeviceID); err != nil {
			return fmt.Errorf("audio: initialize: %w", err)
		}
	}
	dev, err := r.devices.Resolve()
	if err != nil {
		return fmt.Errorf("audio: initialize: %w", err)
	}

	r.mu.Lock()
	r.device = dev
	r.mu.Unlock()

	slog.Info("[AUDIO] capture device", "name", dev.Name, "id", dev.ID, "default", dev.IsDefault)
	return nil
}

// Devices re-enumerates capture devices.
func (r *Recorder) Devices() ([]Device, error) {
	return r.devices.Enumerate()
}

// DeviceManager exposes the recorder's device manager, e.g. for Watch.
func (r *Recorder) DeviceManager() *DeviceManager {
	return r.devices
}

// Device returns the device used by the next or current session.
func (r *Recorder) Device() Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// SelectDevice switches the capture device. It fails while a session is live.
func (r *Recorder) SelectDevice(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return fmt.Errorf("audio: select device: %w", ErrAlreadyRecording)
	}
	dev, err := r.devices.Select(id)
	if err != nil {
		return fmt.Errorf("audio: select device: %w", err)
	}
	r.device = dev
	slog.Info("[AUDIO] device selected", "name", dev.Name, "id", dev.ID)
	return nil
}

// SetProcessing replaces the DSP settings. Safe while recording.
func (r *Recorder) SetProcessing(s dsp.Settings) {
	r.chain.Set(s)
}

// Processing returns the current DSP settings.
func (r *Recorder) Processing() dsp.Settings {
	return r.chain.Settings()
}

// Start opens the selected device and begins capturing.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.state != Idle {
		return ErrAlreadyRecording
	}

	dev, err := r.devices.Resolve()
	if err != nil {
		return fmt.Errorf("audio: start: %w", err)
	}

	stream, err := r.driver.Open(dev.ID, r.cfg.Format)
	if err != nil {
		return fmt.Errorf("%w: open %q: %v", ErrDevice, dev.Name, err)
	}

	r.queue.reset()
	r.meter.Reset()
	r.vad.Reset()
	r.captured.Store(0)
	r.latSum.Store(0)
	r.latCount.Store(0)
	r.paused.Store(false)
	r.haltErr = nil

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("%w: start %q: %v", ErrDevice, dev.Name, err)
	}

	r.device = dev
	r.stream = stream
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	r.state = Recording

	go r.captureLoop(stream, r.stopCh, r.done)

	slog.Info("[AUDIO] recording started", "device", dev.Name,
		"rate", r.cfg.Format.SampleRate, "channels", r.cfg.Format.Channels)
	return nil
}

// Pause stops queueing audio; frames arriving while paused are discarded.
// After a device loss it returns the loss until Stop ends the session.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haltErr != nil && (r.state == Recording || r.state == Paused) {
		return fmt.Errorf("audio: pause: %w", r.haltErr)
	}
	switch r.state {
	case Recording:
		r.paused.Store(true)
		r.state = Paused
		return nil
	case Paused:
		return nil
	default:
		return ErrNotRecording
	}
}

// Resume continues a paused session.
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haltErr != nil && (r.state == Recording || r.state == Paused) {
		return fmt.Errorf("audio: resume: %w", r.haltErr)
	}
	switch r.state {
	case Paused:
		r.paused.Store(false)
		r.state = Recording
		return nil
	case Recording:
		return nil
	default:
		return ErrNotRecording
	}
}

// Stop ends the session and returns every queued frame as one buffer.
// If the device was lost mid-session, the audio captured before the loss
// is returned together with an error wrapping ErrDeviceLost.
func (r *Recorder) Stop() (*Buffer, error) {
	r.mu.Lock()
	if r.state != Recording && r.state != Paused {
		r.mu.Unlock()
		return nil, ErrNotRecording
	}
	r.state = Stopping
	stream, stopCh, done := r.stream, r.stopCh, r.done
	r.mu.Unlock()

	close(stopCh)
	<-done

	if err := stream.Stop(); err != nil {
		slog.Warn("[AUDIO] stopping stream", "error", err)
	}
	if err := stream.Close(); err != nil {
		slog.Warn("[AUDIO] closing stream", "error", err)
	}

	buf := concat(r.queue.drain(), r.cfg.Format.Channels, r.cfg.Format.SampleRate)

	r.mu.Lock()
	r.stream = nil
	r.state = Idle
	haltErr := r.haltErr
	r.mu.Unlock()

	stats := r.Stats()
	slog.Info("[AUDIO] recording stopped", "seconds", buf.Duration().Seconds(),
		"frames", buf.Frames, "overruns", stats.Overruns)
	if err := stats.OverrunErr(); err != nil {
		slog.Warn("[AUDIO] audio dropped during session", "error", err)
	}

	if haltErr != nil {
		return buf, fmt.Errorf("audio: stop: %w", haltErr)
	}
	return buf, nil
}

// State returns the session state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording reports whether a session is live (recording or paused).
func (r *Recorder) IsRecording() bool {
	s := r.State()
	return s == Recording || s == Paused
}

// Level returns the smoothed input level.
func (r *Recorder) Level() float32 { return r.meter.Level() }

// Peak returns the running peak since the last ResetPeak.
func (r *Recorder) Peak() float32 { return r.meter.Peak() }

// ResetPeak clears the running peak.
func (r *Recorder) ResetPeak() { r.meter.ResetPeak() }

// AudioData drains up to maxFrames frames of queued audio, splitting a
// buffer if needed. maxFrames <= 0 drains everything queued.
func (r *Recorder) AudioData(maxFrames int) []float32 {
	return r.queue.pop(maxFrames)
}

// Format returns the capture format.
func (r *Recorder) Format() Format {
	return r.cfg.Format
}

// Stats returns capture counters.
func (r *Recorder) Stats() Stats {
	overruns, dropped := r.queue.stats()

	r.mu.Lock()
	stream := r.stream
	r.mu.Unlock()
	if stream != nil && r.cfg.Format.Channels > 0 {
		dropped += stream.Dropped() / uint64(r.cfg.Format.Channels)
	}

	var avg time.Duration
	if n := r.latCount.Load(); n > 0 {
		avg = time.Duration(r.latSum.Load() / n)
	}
	return Stats{
		FramesCaptured: r.captured.Load(),
		FramesDropped:  dropped,
		Overruns:       overruns,
		AverageLatency: avg,
		QueuedBuffers:  r.queue.len(),
	}
}

// Events returns the recorder's event channel: level, voice-detected,
// device-changed and error events.
func (r *Recorder) Events() <-chan events.Event {
	return r.bus.Events()
}

// Close stops any live session and closes the event channel.
func (r *Recorder) Close() error {
	if r.IsRecording() {
		if _, err := r.Stop(); err != nil {
			slog.Warn("[AUDIO] stop on close", "error", err)
		}
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.bus.Close()
	return nil
}

// captureLoop runs on its own OS thread for the life of one session.
func (r *Recorder) captureLoop(stream Stream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	poll := r.cfg.Format.BufferDuration / 4
	if poll <= 0 {
		poll = 5 * time.Millisecond
	}
	timer := time.NewTimer(poll)
	defer timer.Stop()

	scratch := make([]int16, r.cfg.Format.FramesPerBuffer()*r.cfg.Format.Channels)

	for {
		select {
		case <-stop:
			r.pull(stream, scratch)
			return
		case <-stream.Lost():
			r.pull(stream, scratch)
			r.halt(ErrDeviceLost)
			return
		case <-stream.Ready():
		case <-timer.C:
		}
		r.pull(stream, scratch)
		timer.Reset(poll)
	}
}

// pull drains everything the driver has buffered.
func (r *Recorder) pull(stream Stream, scratch []int16) {
	channels := r.cfg.Format.Channels
	for {
		n := stream.Read(scratch)
		if n == 0 {
			return
		}
		if r.paused.Load() {
			continue
		}
		start := time.Now()
		frames := n / channels
		samples := Int16ToFloat32(scratch[:frames*channels])
		r.process(samples, frames)
		r.latSum.Add(int64(time.Since(start)))
		r.latCount.Add(1)
	}
}

func (r *Recorder) process(samples []float32, frames int) {
	rate := r.cfg.Format.SampleRate

	r.chain.Process(samples)
	r.meter.Update(samples)
	r.bus.Emit(events.Event{Type: events.Level, Level: r.meter.Level(), Peak: r.meter.Peak()})

	switch r.vad.Update(samples, frames, rate) {
	case dsp.SpeechStarted:
		r.bus.Emit(events.Event{Type: events.VoiceDetected, Active: true})
	case dsp.SpeechEnded:
		r.bus.Emit(events.Event{Type: events.VoiceDetected, Active: false})
	}

	if r.queue.push(Buffer{
		Samples:    samples,
		Frames:     frames,
		Channels:   r.cfg.Format.Channels,
		SampleRate: rate,
		Timestamp:  time.Now(),
	}) {
		slog.Debug("[AUDIO] queue full, dropping oldest buffer")
	}
	r.captured.Add(uint64(frames))
}

// halt records a fatal capture error and reports it as events. It runs on
// the capture thread and never blocks.
func (r *Recorder) halt(err error) {
	r.mu.Lock()
	r.haltErr = err
	dev := r.device
	r.mu.Unlock()

	slog.Error("[AUDIO] capture halted", "device", dev.Name, "error", err)
	r.bus.Emit(events.Event{Type: events.Error, DeviceID: dev.ID, DeviceName: dev.Name, Err: err})
	r.bus.Emit(events.Event{Type: events.DeviceChanged, DeviceID: dev.ID, DeviceName: dev.Name, Connected: false})
}
