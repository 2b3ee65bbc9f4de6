// Package transcribe turns audio into text through one of three
// interchangeable backends behind the Engine facade.
//
// Supported backends:
//   - remote: an OpenAI-compatible HTTP API
//   - local: whisper.cpp via Go bindings (build with -tags whisper_cpp)
//   - simulated: deterministic, no dependencies
package transcribe

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chaz8081/voicecore/internal/config"
	"github.com/chaz8081/voicecore/internal/models"
)

// Candidates builds the backends named by cfg.Backend in probe order.
// "auto" yields remote, local, then simulated.
func Candidates(cfg *config.TranscribeConfig) ([]Backend, error) {
	stream := StreamOptions{
		FlushInterval: cfg.Streaming.FlushInterval,
		MaxReconnects: cfg.Streaming.MaxReconnects,
		MaxBackoff:    cfg.Streaming.MaxBackoff,
	}

	remote := func() Backend {
		r := cfg.Remote
		return NewRemoteBackend(RemoteConfig{
			BaseURL:        r.BaseURL,
			APIKey:         r.APIKey,
			Model:          r.Model,
			Timeout:        r.Timeout,
			MaxPayload:     int64(r.MaxPayloadMB) * 1024 * 1024,
			MaxConcurrency: r.MaxConcurrency,
			HTTP2:          r.HTTP2,
			StreamURL:      r.StreamURL,
			Stream:         stream,
		})
	}
	local := func() Backend {
		return NewLocalBackend(NewWhisperEngine(), models.NewManager(cfg.ModelsDir), LocalConfig{
			Threads: cfg.Threads,
			GPU:     cfg.GPU,
			Stream:  stream,
		})
	}
	simulated := func() Backend {
		return NewSimulatedBackend(SimulatedConfig{Stream: stream})
	}

	switch cfg.Backend {
	case "auto", "":
		return []Backend{remote(), local(), simulated()}, nil
	case BackendRemote:
		return []Backend{remote()}, nil
	case BackendLocal:
		return []Backend{local()}, nil
	case BackendSimulated:
		return []Backend{simulated()}, nil
	default:
		return nil, fmt.Errorf("transcribe: unknown backend %q (supported: auto, remote, local, simulated)", cfg.Backend)
	}
}

// NewFromConfig builds the engine described by cfg and loads the configured
// model on local and simulated backends. A model that fails to load is
// logged and left for the caller to retry with LoadModel.
func NewFromConfig(ctx context.Context, cfg *config.TranscribeConfig) (*Engine, error) {
	candidates, err := Candidates(cfg)
	if err != nil {
		return nil, err
	}
	e, err := New(ctx, candidates...)
	if err != nil {
		return nil, err
	}

	opts := DefaultOptions()
	opts.Language = cfg.Language
	opts.UseGPU = cfg.GPU
	e.SetDefaultOptions(opts)

	if e.Backend() != BackendRemote && cfg.Model != "" {
		if err := e.LoadModel(ctx, cfg.Model); err != nil {
			slog.Warn("[TRANSCRIBE] configured model not loaded", "model", cfg.Model, "error", err)
		}
	}
	return e, nil
}
