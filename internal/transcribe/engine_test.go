package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chaz8081/voicecore/internal/config"
	"github.com/chaz8081/voicecore/internal/events"
)

// scriptedBackend is a simulated backend under another name whose
// availability check returns a fixed error.
type scriptedBackend struct {
	*SimulatedBackend
	name     string
	availErr error
	onCheck  func()
	checked  bool
	closed   bool
}

func newScriptedBackend(name string, availErr error) *scriptedBackend {
	return &scriptedBackend{
		SimulatedBackend: NewSimulatedBackend(SimulatedConfig{}),
		name:             name,
		availErr:         availErr,
	}
}

func (p *scriptedBackend) Name() string { return p.name }

func (p *scriptedBackend) Probe(context.Context) error {
	p.checked = true
	if p.onCheck != nil {
		p.onCheck()
	}
	return p.availErr
}

func (p *scriptedBackend) Close() error {
	p.closed = true
	return p.SimulatedBackend.Close()
}

func TestEngineBackendSelection(t *testing.T) {
	unavailable := errors.New("unavailable")
	tests := []struct {
		name      string
		remoteErr error
		localErr  error
		want      string
	}{
		{"remote first", nil, nil, BackendRemote},
		{"remote down uses local", unavailable, nil, BackendLocal},
		{"nothing up uses simulated", unavailable, unavailable, BackendSimulated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newScriptedBackend(BackendRemote, tt.remoteErr)
			local := newScriptedBackend(BackendLocal, tt.localErr)

			e, err := New(context.Background(), remote, local)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer func() { _ = e.Close() }()

			if got := e.Backend(); got != tt.want {
				t.Errorf("Backend() = %q, want %q", got, tt.want)
			}
			if !remote.checked {
				t.Error("remote was not checked first")
			}
			// Losers are closed, the winner is not.
			for _, b := range []*scriptedBackend{remote, local} {
				if b.closed == (b.name == tt.want) {
					t.Errorf("%s closed = %v", b.name, b.closed)
				}
			}
		})
	}
}

func TestEngineNewCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(ctx, newScriptedBackend(BackendRemote, nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("New() error = %v, want context.Canceled", err)
	}
}

func TestEngineCancelledAfterChoice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote := newScriptedBackend(BackendRemote, nil)
	remote.onCheck = cancel
	local := newScriptedBackend(BackendLocal, nil)

	e, err := New(ctx, remote, local)
	if err != nil {
		t.Fatalf("New() error = %v, want the already chosen backend", err)
	}
	defer func() { _ = e.Close() }()
	if e.Backend() != BackendRemote || remote.closed {
		t.Errorf("Backend() = %q, remote closed = %v", e.Backend(), remote.closed)
	}
	if !local.closed || local.checked {
		t.Errorf("local closed = %v, checked = %v; want closed unchecked", local.closed, local.checked)
	}
}

func TestEngineEvents(t *testing.T) {
	e, err := New(context.Background())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if e.Backend() != BackendSimulated {
		t.Fatalf("Backend() = %q", e.Backend())
	}

	if err := e.LoadModel(context.Background(), "tiny.en"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}
	id, err := e.QueueTranscription(tone(time.Second, SampleRate, 0.5), SampleRate, DefaultOptions())
	if err != nil {
		t.Fatalf("QueueTranscription() error = %v", err)
	}

	var (
		loaded    bool
		progress  []float64
		completed events.Event
	)
	timeout := time.After(5 * time.Second)
	for completed.Type == 0 {
		select {
		case ev := <-e.Events():
			switch ev.Type {
			case events.ModelLoaded:
				loaded = ev.ModelID == "tiny.en"
			case events.Progress:
				if ev.JobID == id {
					progress = append(progress, ev.Progress)
				}
			case events.Completed:
				if ev.JobID == id {
					completed = ev
				}
			}
		case <-timeout:
			t.Fatal("no completed event")
		}
	}
	if !loaded {
		t.Error("no model-loaded event")
	}
	if completed.Text != MockPhrase || !completed.Final {
		t.Errorf("completed event = %+v", completed)
	}
	want := []float64{0, 0.2, 0.9, 1}
	if len(progress) != len(want) {
		t.Fatalf("progress = %v, want %v", progress, want)
	}
	for i := range want {
		if progress[i] != want[i] {
			t.Errorf("progress = %v, want %v", progress, want)
			break
		}
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for range e.Events() {
	}
}

func TestEngineTranscribeCallerTimeout(t *testing.T) {
	sim := NewSimulatedBackend(SimulatedConfig{Latency: 200 * time.Millisecond})
	e, err := New(context.Background(), sim)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = e.Close() }()
	if err := e.LoadModel(context.Background(), "tiny"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = e.Transcribe(ctx, tone(time.Second, SampleRate, 0.5), SampleRate, DefaultOptions())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Transcribe() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("Transcribe did not return when the caller's context ended")
	}

	// The abandoned call still runs to completion in the background.
	waitFor(t, 2*time.Second, func() bool {
		return e.PerformanceStats().TotalTranscriptions == 1
	})
}

func TestEngineForwarding(t *testing.T) {
	e, err := New(context.Background(), NewSimulatedBackend(SimulatedConfig{Responder: FixedResponder("forwarded", 0.9)}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = e.Close() }()

	if _, err := e.Transcribe(context.Background(), tone(time.Second, SampleRate, 0.5), SampleRate, DefaultOptions()); !errors.Is(err, ErrModelNotLoaded) {
		t.Errorf("Transcribe before load error = %v, want ErrModelNotLoaded", err)
	}
	if err := e.LoadModel(context.Background(), "whisper-xxl"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("LoadModel(unknown) error = %v, want ErrUnknownModel", err)
	}
	if err := e.LoadModel(context.Background(), "base"); err != nil {
		t.Fatalf("LoadModel() error = %v", err)
	}

	res, err := e.Transcribe(context.Background(), tone(time.Second, SampleRate, 0.5), SampleRate, DefaultOptions())
	if err != nil || res.Text != "forwarded" {
		t.Errorf("Transcribe() = %+v, %v", res, err)
	}
	lang, err := e.DetectLanguage(context.Background(), tone(time.Second, SampleRate, 0.5), SampleRate)
	if err != nil || lang != "en" {
		t.Errorf("DetectLanguage() = %q, %v", lang, err)
	}
	if _, err := e.Job("missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Job(missing) error = %v", err)
	}
	if _, err := e.StreamSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("StreamSession(missing) error = %v", err)
	}

	var loaded int
	for _, m := range e.AvailableModels() {
		if m.Loaded {
			loaded++
		}
	}
	if loaded != 1 {
		t.Errorf("%d models marked loaded, want 1", loaded)
	}
}

func TestToEvent(t *testing.T) {
	tests := []struct {
		kind      NoticeKind
		wantType  events.Type
		wantPhase string
	}{
		{NoticeProgress, events.Progress, "p"},
		{NoticeCompleted, events.Completed, "p"},
		{NoticeFailed, events.Error, "p"},
		{NoticeStreamFailed, events.Error, "p"},
		{NoticePartial, events.PartialResult, "p"},
		{NoticeReconnecting, events.Progress, "reconnecting"},
		{NoticeReconnected, events.Progress, "reconnected"},
		{NoticeCancelled, events.Progress, "cancelled"},
		{NoticeModelLoaded, events.ModelLoaded, "p"},
	}
	for _, tt := range tests {
		ev := toEvent(Notice{Kind: tt.kind, Phase: "p", JobID: "j", SessionID: "s"})
		if ev.Type != tt.wantType || ev.Phase != tt.wantPhase {
			t.Errorf("toEvent(%d) = %v/%q, want %v/%q", tt.kind, ev.Type, ev.Phase, tt.wantType, tt.wantPhase)
		}
		if ev.JobID != "j" || ev.SessionID != "s" {
			t.Errorf("toEvent(%d) lost ids", tt.kind)
		}
	}
}

func TestCandidatesFromConfig(t *testing.T) {
	cfg := config.Default().Transcribe

	tests := []struct {
		backend string
		want    []string
		wantErr bool
	}{
		{"auto", []string{BackendRemote, BackendLocal, BackendSimulated}, false},
		{"local", []string{BackendLocal}, false},
		{"simulated", []string{BackendSimulated}, false},
		{"parakeet", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			c := cfg
			c.Backend = tt.backend
			bs, err := Candidates(&c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Candidates() error = %v, wantErr %v", err, tt.wantErr)
			}
			defer closeAll(bs)
			if len(bs) != len(tt.want) {
				t.Fatalf("got %d backends, want %d", len(bs), len(tt.want))
			}
			for i, b := range bs {
				if b.Name() != tt.want[i] {
					t.Errorf("backend[%d] = %q, want %q", i, b.Name(), tt.want[i])
				}
			}
		})
	}
}

func TestNewFromConfigSimulated(t *testing.T) {
	cfg := config.Default().Transcribe
	cfg.Backend = "simulated"
	cfg.Model = "small.en"
	cfg.Language = "en"

	e, err := NewFromConfig(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	defer func() { _ = e.Close() }()

	if e.Backend() != BackendSimulated {
		t.Errorf("Backend() = %q", e.Backend())
	}
	if e.DefaultOptions().Language != "en" {
		t.Errorf("default language = %q", e.DefaultOptions().Language)
	}
	if got := e.PerformanceStats().Model; got != "small.en" {
		t.Errorf("loaded model = %q, want small.en", got)
	}
}
