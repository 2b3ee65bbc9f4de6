package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/voicecore/internal/models"
)

// Backend names.
const (
	BackendRemote    = "remote"
	BackendLocal     = "local"
	BackendSimulated = "simulated"
)

// Backend is one interchangeable transcription implementation. The Engine
// facade binds to exactly one Backend for its lifetime.
type Backend interface {
	Name() string
	// Probe reports whether the backend can serve requests right now.
	Probe(ctx context.Context) error

	AvailableModels() []models.Model
	LoadModel(ctx context.Context, id string) error

	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error)
	TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error)
	DetectLanguage(ctx context.Context, samples []float32, sampleRate int) (string, error)

	QueueTranscription(samples []float32, sampleRate int, opts Options) (string, error)
	QueueFileTranscription(path string, opts Options) (string, error)
	Job(id string) (Job, error)
	CancelJob(id string) bool
	ClearQueue() int

	StartStreaming(cfg StreamConfig) (string, error)
	AddAudioChunk(id string, samples []float32) error
	StopStreaming(id string) (string, error)
	StreamSession(id string) (StreamSession, error)

	PerformanceStats() PerformanceStats
	Notices() <-chan Notice
	Close() error
}

// NoticeKind identifies a backend notification.
type NoticeKind int

const (
	NoticeProgress NoticeKind = iota + 1
	NoticeCompleted
	NoticeFailed
	NoticeCancelled
	NoticePartial
	NoticeReconnecting
	NoticeReconnected
	NoticeStreamFailed
	NoticeModelLoaded
)

// Notice is what a backend publishes about its own work. The Engine turns
// notices into caller-facing events.
type Notice struct {
	Kind      NoticeKind
	JobID     string
	SessionID string
	Progress  float64
	Phase     string
	Text      string
	Language  string
	Final     bool
	ModelID   string
	Attempt   int
	Err       error
}

const noticeBuffer = 256

// notifier is a non-blocking Notice channel.
type notifier struct {
	ch      chan Notice
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

func newNotifier() *notifier {
	return &notifier{ch: make(chan Notice, noticeBuffer)}
}

func (n *notifier) notify(nt Notice) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.ch <- nt:
	default:
		n.dropped.Add(1)
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}

// perfCounters accumulates PerformanceStats inputs.
type perfCounters struct {
	mu         sync.Mutex
	total      int
	failed     int
	audio      time.Duration
	processing time.Duration
}

func (p *perfCounters) record(audio, processing time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
		return
	}
	p.total++
	p.audio += audio
	p.processing += processing
}

func (p *perfCounters) fill(s *PerformanceStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.TotalTranscriptions = p.total
	s.FailedTranscriptions = p.failed
	s.TotalAudio = p.audio
	s.TotalProcessing = p.processing
	if p.total > 0 {
		s.AverageProcessing = p.processing / time.Duration(p.total)
	}
	if p.audio > 0 {
		s.RealTimeFactor = p.processing.Seconds() / p.audio.Seconds()
	}
}

type runFunc func(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error)
type runFileFunc func(ctx context.Context, path string, opts Options) (*Result, error)

// base carries the queueing, streaming and notification plumbing shared by
// every backend. Each backend supplies the inference calls.
type base struct {
	name    string
	run     runFunc
	runFile runFileFunc
	// ready, when set, is checked before work is queued.
	ready func() error

	notices *notifier
	sched   *Scheduler
	streams *StreamManager
	perf    perfCounters
}

func newBase(name string, limit int, interruptible bool, stream StreamOptions) *base {
	b := &base{name: name, notices: newNotifier()}
	b.sched = NewScheduler(limit, interruptible, b.notices.notify)
	b.streams = NewStreamManager(stream, b.notices.notify)
	return b
}

func (b *base) Name() string { return b.name }

func (b *base) Notices() <-chan Notice { return b.notices.ch }

func (b *base) QueueTranscription(samples []float32, sampleRate int, opts Options) (string, error) {
	if b.ready != nil {
		if err := b.ready(); err != nil {
			return "", err
		}
	}
	// The caller may reuse samples after this returns.
	input := append([]float32(nil), samples...)
	return b.sched.Submit(Job{Frames: len(input), Options: opts}, func(ctx context.Context, report ProgressFunc) (*Result, error) {
		report(0.2, PhaseProcessing)
		res, err := b.run(ctx, input, sampleRate, opts)
		if err != nil {
			return nil, err
		}
		report(0.9, PhaseFinalizing)
		return res, nil
	})
}

func (b *base) QueueFileTranscription(path string, opts Options) (string, error) {
	if b.ready != nil {
		if err := b.ready(); err != nil {
			return "", err
		}
	}
	return b.sched.Submit(Job{File: path, Options: opts}, func(ctx context.Context, report ProgressFunc) (*Result, error) {
		report(0.2, PhaseProcessing)
		res, err := b.runFile(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		report(0.9, PhaseFinalizing)
		return res, nil
	})
}

func (b *base) Job(id string) (Job, error) { return b.sched.Job(id) }

func (b *base) CancelJob(id string) bool { return b.sched.Cancel(id) }

func (b *base) ClearQueue() int { return b.sched.Clear() }

func (b *base) AddAudioChunk(id string, samples []float32) error {
	return b.streams.Add(id, samples)
}

func (b *base) StopStreaming(id string) (string, error) { return b.streams.Stop(id) }

func (b *base) StreamSession(id string) (StreamSession, error) { return b.streams.Session(id) }

// directStreaming opens sessions that call the backend's own inference.
func (b *base) directStreaming(cfg StreamConfig) (string, error) {
	if b.ready != nil {
		if err := b.ready(); err != nil {
			return "", err
		}
	}
	return b.streams.Start(cfg, &directTransport{run: b.run})
}

func (b *base) stats() PerformanceStats {
	s := PerformanceStats{
		Backend:       b.name,
		QueueLength:   b.sched.QueueLength(),
		ActiveJobs:    b.sched.Active(),
		ActiveStreams: b.streams.Len(),
	}
	b.perf.fill(&s)
	return s
}

// timed runs fn and records it in the performance counters.
func (b *base) timed(audio time.Duration, fn func() (*Result, error)) (*Result, error) {
	start := time.Now()
	res, err := fn()
	elapsed := time.Since(start)
	b.perf.record(audio, elapsed, err)
	if res != nil {
		res.ProcessingTime = elapsed
		res.Backend = b.name
	}
	return res, err
}

func (b *base) close() {
	b.streams.Close()
	b.sched.Close()
	b.notices.close()
	slog.Debug("[TRANSCRIBE] backend closed", "backend", b.name, "dropped_notices", b.notices.dropped.Load())
}
