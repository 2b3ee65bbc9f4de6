package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/voicecore/internal/models"
)

// MockPhrase is what the default Responder answers.
const MockPhrase = "This is a mock transcription result."

// MockConfidence is the confidence the default Responder reports.
const MockConfidence = 0.85

// Responder produces the simulated transcript for prepared 16 kHz input.
type Responder func(samples []float32, opts Options) (text string, confidence float32)

// MockResponder always answers MockPhrase.
func MockResponder(_ []float32, _ Options) (string, float32) {
	return MockPhrase, MockConfidence
}

// FixedResponder answers text for every non-silent input.
func FixedResponder(text string, confidence float32) Responder {
	return func([]float32, Options) (string, float32) { return text, confidence }
}

// SimulatedConfig configures a SimulatedBackend.
type SimulatedConfig struct {
	Responder Responder
	// Latency is added to every inference call.
	Latency time.Duration
	Stream  StreamOptions
}

// SimulatedBackend is a deterministic backend with no external
// dependencies. It is always ready and is the last-resort binding.
type SimulatedBackend struct {
	*base
	respond Responder
	latency time.Duration

	mu      sync.Mutex
	modelID string
}

// NewSimulatedBackend creates a simulated backend.
func NewSimulatedBackend(cfg SimulatedConfig) *SimulatedBackend {
	if cfg.Responder == nil {
		cfg.Responder = MockResponder
	}
	s := &SimulatedBackend{
		base:    newBase(BackendSimulated, 2, false, cfg.Stream),
		respond: cfg.Responder,
		latency: cfg.Latency,
	}
	s.run = s.transcribe
	s.runFile = s.transcribeFile
	s.ready = s.requireModel
	return s
}

// Probe always succeeds.
func (s *SimulatedBackend) Probe(context.Context) error { return nil }

// AvailableModels returns the catalog; every entry counts as downloaded.
func (s *SimulatedBackend) AvailableModels() []models.Model {
	list := models.Catalog()
	loaded := s.loadedID()
	for i := range list {
		list[i].Downloaded = true
		list[i].Loaded = list[i].ID == loaded
	}
	return list
}

// LoadModel accepts any catalog id without touching disk.
func (s *SimulatedBackend) LoadModel(ctx context.Context, id string) error {
	if _, ok := models.Lookup(id); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	s.mu.Lock()
	s.modelID = id
	s.mu.Unlock()
	s.notices.notify(Notice{Kind: NoticeModelLoaded, ModelID: id})
	return nil
}

func (s *SimulatedBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	return s.transcribe(ctx, samples, sampleRate, opts)
}

func (s *SimulatedBackend) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	return s.transcribeFile(ctx, path, opts)
}

// DetectLanguage answers "en" for any loaded model.
func (s *SimulatedBackend) DetectLanguage(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := s.requireModel(); err != nil {
		return "", err
	}
	return "en", nil
}

func (s *SimulatedBackend) StartStreaming(cfg StreamConfig) (string, error) {
	return s.directStreaming(cfg)
}

func (s *SimulatedBackend) PerformanceStats() PerformanceStats {
	st := s.stats()
	st.Model = s.loadedID()
	return st
}

func (s *SimulatedBackend) Close() error {
	s.close()
	return nil
}

func (s *SimulatedBackend) transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	if err := s.requireModel(); err != nil {
		return nil, err
	}
	input, err := prepare(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	modelID := s.loadedID()
	if silent(input, opts) || len(input) == 0 {
		res := emptyResult(input, opts)
		res.Backend, res.Model = s.name, modelID
		return res, nil
	}

	audioLen := samplesDuration(len(input), SampleRate)
	return s.timed(audioLen, func() (*Result, error) {
		if s.latency > 0 {
			timer := time.NewTimer(s.latency)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		text, conf := s.respond(input, opts)
		lang := opts.language()
		if lang == "auto" {
			lang = "en"
		}
		seg := Segment{
			End:        audioLen,
			Text:       strings.TrimSpace(text),
			Confidence: conf,
			Speaker:    -1,
		}
		if opts.Timestamps {
			seg.Words = spreadWords(seg.Text, audioLen, conf)
		}
		res := &Result{
			Language:   lang,
			Duration:   audioLen,
			Confidence: conf,
			Model:      modelID,
		}
		if seg.Text != "" {
			res.Segments = []Segment{seg}
		}
		finish(res, opts)
		return res, nil
	})
}

func (s *SimulatedBackend) transcribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	if err := s.requireModel(); err != nil {
		return nil, err
	}
	samples, rate, err := loadAudioFile(path)
	if err != nil {
		return nil, err
	}
	return s.transcribe(ctx, samples, rate, opts)
}

func (s *SimulatedBackend) requireModel() error {
	if s.loadedID() == "" {
		return ErrModelNotLoaded
	}
	return nil
}

func (s *SimulatedBackend) loadedID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelID
}

// spreadWords splits text evenly over d.
func spreadWords(text string, d time.Duration, conf float32) []Word {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	// Boundaries are computed from d each time so the last word ends
	// exactly at d.
	n := time.Duration(len(fields))
	words := make([]Word, len(fields))
	for i, f := range fields {
		words[i] = Word{
			Text:       f,
			Start:      d * time.Duration(i) / n,
			End:        d * time.Duration(i+1) / n,
			Confidence: conf,
		}
	}
	return words
}
