// Package pipeline connects audio capture to transcription: record then
// transcribe, or stream captured audio to a live session while recording.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/voicecore/internal/audio"
	"github.com/chaz8081/voicecore/internal/transcribe"
)

// DefaultChunkInterval is how often live mode moves captured audio into the
// streaming session.
const DefaultChunkInterval = 250 * time.Millisecond

// ErrLiveActive is returned when a second live session is started.
var ErrLiveActive = errors.New("pipeline: live session already active")

// LiveConfig configures StartLive.
type LiveConfig struct {
	Options transcribe.Options
	// ChunkInterval defaults to DefaultChunkInterval.
	ChunkInterval time.Duration
}

// Dictation drives one Recorder into one Engine.
type Dictation struct {
	rec  *audio.Recorder
	eng  *transcribe.Engine
	opts transcribe.Options

	mu   sync.Mutex
	live *liveSession
}

type liveSession struct {
	id   string
	stop chan struct{}
	done chan struct{}
}

// New creates a Dictation. Options default to the engine's.
func New(rec *audio.Recorder, eng *transcribe.Engine) *Dictation {
	return &Dictation{rec: rec, eng: eng, opts: eng.DefaultOptions()}
}

// SetOptions replaces the options used by Stop.
func (d *Dictation) SetOptions(opts transcribe.Options) { d.opts = opts }

// Start begins recording.
func (d *Dictation) Start() error {
	return d.rec.Start()
}

// Stop ends recording and transcribes everything captured. When the device
// was lost mid-recording, the audio captured before the loss is still
// transcribed and the loss is returned alongside the result.
func (d *Dictation) Stop(ctx context.Context) (*transcribe.Result, error) {
	buf, stopErr := d.rec.Stop()
	if buf == nil {
		return nil, stopErr
	}
	if buf.Frames == 0 {
		slog.Info("[TRANSCRIBE] no audio captured, skipping")
		return &transcribe.Result{}, stopErr
	}

	slog.Info("[TRANSCRIBE] processing audio", "seconds", buf.Duration().Seconds())
	res, err := d.eng.Transcribe(ctx, buf.Mono(), buf.SampleRate, d.opts)
	if err != nil {
		return nil, errors.Join(err, stopErr)
	}
	slog.Info("[TRANSCRIBE] result", "text", res.Text, "processing", res.ProcessingTime)
	return res, stopErr
}

// StartLive starts recording and a streaming session, and forwards captured
// audio to the session every ChunkInterval.
func (d *Dictation) StartLive(cfg LiveConfig) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live != nil {
		return "", ErrLiveActive
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	if cfg.Options == (transcribe.Options{}) {
		cfg.Options = d.opts
	}

	format := d.rec.Format()
	id, err := d.eng.StartStreaming(transcribe.StreamConfig{SampleRate: format.SampleRate, Options: cfg.Options})
	if err != nil {
		return "", fmt.Errorf("pipeline: start live: %w", err)
	}
	if err := d.rec.Start(); err != nil {
		_, _ = d.eng.StopStreaming(id)
		return "", fmt.Errorf("pipeline: start live: %w", err)
	}

	ls := &liveSession{id: id, stop: make(chan struct{}), done: make(chan struct{})}
	d.live = ls
	go d.forward(ls, cfg.ChunkInterval, format.Channels)

	slog.Info("[STREAM] live dictation started", "session", id)
	return id, nil
}

// StopLive stops recording, forwards the last captured audio and returns
// the session transcript.
func (d *Dictation) StopLive() (string, error) {
	d.mu.Lock()
	ls := d.live
	d.live = nil
	d.mu.Unlock()
	if ls == nil {
		return "", transcribe.ErrSessionNotFound
	}

	close(ls.stop)
	<-ls.done

	buf, stopErr := d.rec.Stop()
	if buf != nil && buf.Frames > 0 {
		if err := d.eng.AddAudioChunk(ls.id, buf.Mono()); err != nil {
			slog.Warn("[STREAM] final chunk rejected", "session", ls.id, "error", err)
		}
	}

	text, err := d.eng.StopStreaming(ls.id)
	if err != nil {
		return text, errors.Join(err, stopErr)
	}
	return text, stopErr
}

// Live reports whether a live session is running.
func (d *Dictation) Live() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live != nil
}

func (d *Dictation) forward(ls *liveSession, interval time.Duration, channels int) {
	defer close(ls.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
		}
		samples := d.rec.AudioData(0)
		if len(samples) == 0 {
			continue
		}
		if err := d.eng.AddAudioChunk(ls.id, audio.Downmix(samples, channels)); err != nil {
			slog.Warn("[STREAM] chunk rejected", "session", ls.id, "error", err)
		}
	}
}
