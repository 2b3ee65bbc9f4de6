package transcribe

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/chaz8081/voicecore/internal/events"
	"github.com/chaz8081/voicecore/internal/models"
)

// Engine is the single entry point for transcription. It binds to the
// first candidate backend whose probe succeeds and keeps that binding for
// its lifetime.
type Engine struct {
	backend  Backend
	bus      *events.Bus
	defaults Options

	forward   sync.WaitGroup
	closeOnce sync.Once
}

// New probes candidates in order and binds to the first that answers. A
// SimulatedBackend is appended when no candidate is simulated, so New only
// fails when ctx ends. Backends that are not chosen are closed.
func New(ctx context.Context, candidates ...Backend) (*Engine, error) {
	hasSimulated := false
	for _, b := range candidates {
		if b.Name() == BackendSimulated {
			hasSimulated = true
		}
	}
	if !hasSimulated {
		candidates = append(candidates, NewSimulatedBackend(SimulatedConfig{}))
	}

	var chosen Backend
	for i, b := range candidates {
		if chosen != nil {
			_ = b.Close()
			continue
		}
		// Earlier candidates were already closed when their probe failed.
		if err := ctx.Err(); err != nil {
			closeAll(candidates[i:])
			return nil, err
		}
		if err := b.Probe(ctx); err != nil {
			slog.Info("[TRANSCRIBE] backend unavailable", "backend", b.Name(), "reason", err)
			_ = b.Close()
			continue
		}
		chosen = b
	}
	if chosen == nil {
		return nil, ErrEngineUnavailable
	}

	e := &Engine{
		backend:  chosen,
		bus:      events.NewBus(events.DefaultBusSize),
		defaults: DefaultOptions(),
	}
	e.forward.Add(1)
	go e.normalize()

	slog.Info("[TRANSCRIBE] backend selected", "backend", chosen.Name())
	return e, nil
}

func closeAll(bs []Backend) {
	for _, b := range bs {
		_ = b.Close()
	}
}

// Backend returns the name of the bound backend.
func (e *Engine) Backend() string { return e.backend.Name() }

// Unwrap returns the bound backend itself.
func (e *Engine) Unwrap() Backend { return e.backend }

// Events returns the engine's event stream. It is closed by Close.
func (e *Engine) Events() <-chan events.Event { return e.bus.Events() }

// DefaultOptions returns the options used when a caller passes none.
func (e *Engine) DefaultOptions() Options { return e.defaults }

// SetDefaultOptions replaces the options returned by DefaultOptions.
func (e *Engine) SetDefaultOptions(opts Options) { e.defaults = opts }

func (e *Engine) AvailableModels() []models.Model { return e.backend.AvailableModels() }

func (e *Engine) LoadModel(ctx context.Context, id string) error {
	return e.backend.LoadModel(ctx, id)
}

// Transcribe runs inference synchronously. When ctx ends first, Transcribe
// returns ctx.Err() but the backend finishes the work in the background
// and the result is discarded.
func (e *Engine) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	return detach(ctx, func(ctx context.Context) (*Result, error) {
		return e.backend.Transcribe(ctx, samples, sampleRate, opts)
	})
}

// TranscribeFile transcribes an audio file. Cancellation behaves as for
// Transcribe.
func (e *Engine) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	return detach(ctx, func(ctx context.Context) (*Result, error) {
		return e.backend.TranscribeFile(ctx, path, opts)
	})
}

// DetectLanguage returns the language code of the first 30 seconds.
// Cancellation behaves as for Transcribe.
func (e *Engine) DetectLanguage(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	res, err := detach(ctx, func(ctx context.Context) (*Result, error) {
		lang, err := e.backend.DetectLanguage(ctx, samples, sampleRate)
		if err != nil {
			return nil, err
		}
		return &Result{Language: lang}, nil
	})
	if err != nil {
		return "", err
	}
	return res.Language, nil
}

func (e *Engine) QueueTranscription(samples []float32, sampleRate int, opts Options) (string, error) {
	return e.backend.QueueTranscription(samples, sampleRate, opts)
}

func (e *Engine) QueueFileTranscription(path string, opts Options) (string, error) {
	return e.backend.QueueFileTranscription(path, opts)
}

func (e *Engine) Job(id string) (Job, error) { return e.backend.Job(id) }

// CancelJob cancels a queued job. Whether a processing job can be
// cancelled depends on the backend; see Scheduler.Cancel.
func (e *Engine) CancelJob(id string) bool { return e.backend.CancelJob(id) }

func (e *Engine) ClearQueue() int { return e.backend.ClearQueue() }

func (e *Engine) StartStreaming(cfg StreamConfig) (string, error) {
	return e.backend.StartStreaming(cfg)
}

func (e *Engine) AddAudioChunk(id string, samples []float32) error {
	return e.backend.AddAudioChunk(id, samples)
}

func (e *Engine) StopStreaming(id string) (string, error) { return e.backend.StopStreaming(id) }

func (e *Engine) StreamSession(id string) (StreamSession, error) {
	return e.backend.StreamSession(id)
}

func (e *Engine) PerformanceStats() PerformanceStats { return e.backend.PerformanceStats() }

// Close shuts the backend down and closes the event stream.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		err = e.backend.Close()
		e.forward.Wait()
		e.bus.Close()
		slog.Info("[TRANSCRIBE] engine closed", "backend", e.backend.Name(), "dropped_events", e.bus.Dropped())
	})
	return err
}

// normalize turns backend notices into events until the backend closes its
// notice channel.
func (e *Engine) normalize() {
	defer e.forward.Done()
	for n := range e.backend.Notices() {
		e.bus.Emit(toEvent(n))
	}
}

func toEvent(n Notice) events.Event {
	ev := events.Event{
		JobID:     n.JobID,
		SessionID: n.SessionID,
		Progress:  n.Progress,
		Phase:     n.Phase,
		Text:      n.Text,
		Language:  n.Language,
		Final:     n.Final,
		ModelID:   n.ModelID,
		Err:       n.Err,
	}
	switch n.Kind {
	case NoticeProgress:
		ev.Type = events.Progress
	case NoticeCompleted:
		ev.Type = events.Completed
	case NoticeFailed, NoticeStreamFailed:
		ev.Type = events.Error
	case NoticePartial:
		ev.Type = events.PartialResult
	case NoticeReconnecting:
		ev.Type = events.Progress
		ev.Phase = "reconnecting"
	case NoticeReconnected:
		ev.Type = events.Progress
		ev.Phase = "reconnected"
	case NoticeCancelled:
		ev.Type = events.Progress
		ev.Phase = "cancelled"
	case NoticeModelLoaded:
		ev.Type = events.ModelLoaded
	}
	return ev
}

// detach runs fn on its own goroutine with a context that ignores the
// caller's cancellation, and returns early with ctx.Err() if ctx ends.
func detach(ctx context.Context, fn func(context.Context) (*Result, error)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := fn(context.WithoutCancel(ctx))
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("[TRANSCRIBE] caller gave up, work continues in background")
		}
		return nil, err
	}
}
