//go:build whisper_cpp

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chaz8081/voicecore/internal/audio"
	"github.com/chaz8081/voicecore/internal/models"
	"github.com/chaz8081/voicecore/internal/transcribe"
)

const jfkText = "and so my fellow americans ask not what your country can do for you ask what you can do for your country"

// TestDictationWhisperJFK replays the JFK sample through a recorder and
// transcribes it with the local whisper backend.
func TestDictationWhisperJFK(t *testing.T) {
	modelDir := filepath.Join("..", "..", "models")
	if _, err := os.Stat(filepath.Join(modelDir, "ggml-base.en.bin")); err != nil {
		t.Skipf("model not found (run 'make model' first): %v", err)
	}
	wavPath := filepath.Join("..", "..", "third_party", "whisper.cpp", "samples", "jfk.wav")
	src, err := audio.LoadWAV(wavPath)
	if err != nil {
		t.Skipf("JFK sample unavailable: %v", err)
	}

	drv := audio.NewReplayDriver(audio.Device{ID: "mic-0", Name: "Replay Mic", IsDefault: true})
	drv.Speed = 10
	drv.SetSource("mic-0", src)
	cfg := audio.DefaultConfig()
	// The whole sample must fit in the queue until Stop.
	cfg.QueueSize = 1000
	rec := audio.NewRecorder(drv, cfg)
	if err := rec.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })

	local := transcribe.NewLocalBackend(transcribe.NewWhisperEngine(), models.NewManager(modelDir), transcribe.LocalConfig{Threads: 4})
	eng, err := transcribe.New(context.Background(), local)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	if eng.Unwrap() != transcribe.Backend(local) {
		t.Skipf("whisper engine unavailable, engine chose %s", eng.Backend())
	}
	if err := eng.LoadModel(context.Background(), "base.en"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}

	d := New(rec, eng)
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, drv)

	res, err := d.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if dropped := rec.Stats().FramesDropped; dropped != 0 {
		t.Errorf("%d frames dropped during capture", dropped)
	}
	if w := transcribe.ScoreResult(jfkText, res); w.WER > 0.2 {
		t.Errorf("%v, want <= 20%% (got %q)", w, res.Text)
	}
	if res.Confidence <= 0.5 {
		t.Errorf("Confidence = %v, want > 0.5", res.Confidence)
	}
}
