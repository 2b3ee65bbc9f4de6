//go:build whisper_cpp

package transcribe

import (
	"fmt"
	"io"
	"strings"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NewWhisperEngine returns the whisper.cpp engine.
func NewWhisperEngine() NativeEngine {
	return whisperEngine{}
}

type whisperEngine struct{}

func (whisperEngine) Probe() error { return checkCPUSupport() }

// Load loads a whisper model from the given path.
// The caller must call Close() when done.
func (whisperEngine) Load(path string) (NativeModel, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("transcribe: load whisper model %q: %w", path, err)
	}
	return &whisperModel{model: model}, nil
}

// GPUDevices is empty: the bindings pick the backend device at build time.
func (whisperEngine) GPUDevices() []string { return nil }

// whisperModel wraps a whisper.cpp model for speech-to-text.
type whisperModel struct {
	model whisper.Model
}

func (m *whisperModel) Multilingual() bool { return m.model.IsMultilingual() }

// Close releases the whisper model resources.
func (m *whisperModel) Close() error {
	if m.model != nil {
		return m.model.Close()
	}
	return nil
}

// Transcribe processes mono 16kHz float32 audio samples.
func (m *whisperModel) Transcribe(samples []float32, p NativeParams) (string, []NativeSegment, error) {
	ctx, err := m.model.NewContext()
	if err != nil {
		return "", nil, fmt.Errorf("transcribe: create context: %w", err)
	}

	if m.model.IsMultilingual() && p.Language != "" {
		if err := ctx.SetLanguage(p.Language); err != nil {
			return "", nil, fmt.Errorf("transcribe: set language %q: %w", p.Language, err)
		}
	}
	if p.Threads > 0 {
		ctx.SetThreads(uint(p.Threads))
	}
	if p.BeamSize > 1 {
		ctx.SetBeamSize(p.BeamSize)
	}
	ctx.SetTemperature(p.Temperature)
	ctx.SetTokenTimestamps(p.TokenTimestamps)
	if p.Prompt != "" {
		ctx.SetInitialPrompt(p.Prompt)
	}

	var progress whisper.ProgressCallback
	if p.Progress != nil {
		progress = func(percent int) { p.Progress(percent) }
	}
	if err := ctx.Process(samples, nil, nil, progress); err != nil {
		return "", nil, fmt.Errorf("transcribe: process: %w", err)
	}

	var segments []NativeSegment
	for {
		seg, err := ctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("transcribe: next segment: %w", err)
		}
		out := NativeSegment{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
		for _, tok := range seg.Tokens {
			if !ctx.IsText(tok) {
				continue
			}
			out.Tokens = append(out.Tokens, NativeToken{Text: tok.Text, P: tok.P, Start: tok.Start, End: tok.End})
		}
		segments = append(segments, out)
	}

	lang := p.Language
	if lang == "" || lang == "auto" {
		lang = ctx.DetectedLanguage()
	}
	return lang, segments, nil
}

// DetectLanguage runs inference on samples with auto-detection and
// returns the language whisper settled on.
func (m *whisperModel) DetectLanguage(samples []float32, threads int) (string, error) {
	if !m.model.IsMultilingual() {
		return "en", nil
	}
	ctx, err := m.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("transcribe: create context: %w", err)
	}
	if err := ctx.SetLanguage("auto"); err != nil {
		return "", fmt.Errorf("transcribe: set language: %w", err)
	}
	if threads > 0 {
		ctx.SetThreads(uint(threads))
	}
	if err := ctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("transcribe: process: %w", err)
	}
	return ctx.DetectedLanguage(), nil
}
