package transcribe

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaz8081/voicecore/internal/audio"
)

func newTestSimulated(t *testing.T, cfg SimulatedConfig) *SimulatedBackend {
	t.Helper()
	s := NewSimulatedBackend(cfg)
	t.Cleanup(func() { _ = s.Close() })
	if err := s.LoadModel(context.Background(), "base.en"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	return s
}

func TestSimulatedTranscribe(t *testing.T) {
	s := newTestSimulated(t, SimulatedConfig{})

	res, err := s.Transcribe(context.Background(), tone(2*time.Second, SampleRate, 0.5), SampleRate, DefaultOptions())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != MockPhrase || res.Confidence != MockConfidence {
		t.Errorf("result = %q (%v)", res.Text, res.Confidence)
	}
	if res.Language != "en" || res.Duration != 2*time.Second || res.Model != "base.en" {
		t.Errorf("result = %+v", res)
	}
	words := res.Segments[0].Words
	if len(words) != 6 {
		t.Fatalf("got %d words, want 6", len(words))
	}
	if words[len(words)-1].End != 2*time.Second {
		t.Errorf("last word ends at %v, want 2s", words[len(words)-1].End)
	}
}

func TestSpreadWords(t *testing.T) {
	// 2s over 7 words does not divide evenly in nanoseconds.
	words := spreadWords("one two three four five six seven", 2*time.Second, 0.5)
	if len(words) != 7 {
		t.Fatalf("got %d words, want 7", len(words))
	}
	if words[0].Start != 0 || words[6].End != 2*time.Second {
		t.Errorf("words span %v..%v, want 0..2s", words[0].Start, words[6].End)
	}
	for i := 1; i < len(words); i++ {
		if words[i].Start != words[i-1].End {
			t.Errorf("gap between word %d and %d: %v != %v", i-1, i, words[i-1].End, words[i].Start)
		}
	}
	if spreadWords("  ", time.Second, 1) != nil {
		t.Error("blank text produced words")
	}
}

func TestSimulatedSilence(t *testing.T) {
	called := false
	s := newTestSimulated(t, SimulatedConfig{Responder: func([]float32, Options) (string, float32) {
		called = true
		return "never", 1
	}})

	res, err := s.Transcribe(context.Background(), make([]float32, SampleRate), SampleRate, DefaultOptions())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if res.Text != "" || called {
		t.Errorf("silence produced %q (responder called: %v)", res.Text, called)
	}
}

func TestSimulatedQueueAndClear(t *testing.T) {
	s := newTestSimulated(t, SimulatedConfig{Latency: 300 * time.Millisecond})

	var ids []string
	for i := 0; i < 6; i++ {
		id, err := s.QueueTranscription(tone(time.Second, SampleRate, 0.5), SampleRate, DefaultOptions())
		if err != nil {
			t.Fatalf("QueueTranscription() error = %v", err)
		}
		ids = append(ids, id)
	}
	// Two workers take the first two jobs.
	waitFor(t, 2*time.Second, func() bool { return s.PerformanceStats().ActiveJobs == 2 })
	if n := s.ClearQueue(); n != 4 {
		t.Errorf("ClearQueue() = %d, want 4", n)
	}

	for i, id := range ids[:2] {
		job, err := s.sched.Wait(context.Background(), id)
		if err != nil || job.Status != StatusCompleted {
			t.Errorf("job %d = %v, %v", i, job.Status, err)
		}
	}
	for _, id := range ids[2:] {
		if job, _ := s.Job(id); job.Status != StatusCancelled {
			t.Errorf("cleared job status = %v", job.Status)
		}
	}
}

func TestSimulatedFile(t *testing.T) {
	s := newTestSimulated(t, SimulatedConfig{Responder: FixedResponder("from a file", 0.9)})

	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.SaveWAV(path, audio.NewBuffer(tone(time.Second, 8000, 0.5), 1, 8000)); err != nil {
		t.Fatalf("SaveWAV() error = %v", err)
	}
	id, err := s.QueueFileTranscription(path, DefaultOptions())
	if err != nil {
		t.Fatalf("QueueFileTranscription() error = %v", err)
	}
	job, err := s.sched.Wait(context.Background(), id)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if job.Status != StatusCompleted || job.Result.Text != "from a file" || job.File != path {
		t.Errorf("job = %+v", job)
	}

	id, _ = s.QueueFileTranscription(filepath.Join(t.TempDir(), "missing.wav"), DefaultOptions())
	job, _ = s.sched.Wait(context.Background(), id)
	if job.Status != StatusFailed || job.Err == nil {
		t.Errorf("missing file job = %v %v", job.Status, job.Err)
	}
	if errors.Is(job.Err, ErrUnsupportedFormat) {
		t.Errorf("missing file reported as unsupported: %v", job.Err)
	}
}
