package transcribe

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/voicecore/internal/models"
)

// mockEngine is a NativeEngine whose models answer a fixed transcript.
type mockEngine struct {
	availErr     error
	loadErr      error
	multilingual bool
	text         string
	gpus         []string

	// gate, when set, blocks every Transcribe until it is closed.
	gate chan struct{}
	// started receives once per Transcribe call before it blocks on gate.
	started chan struct{}

	calls  atomic.Int32
	loads  atomic.Int32
	closed atomic.Int32

	mu         sync.Mutex
	lastParams NativeParams
}

func newMockEngine() *mockEngine {
	return &mockEngine{text: " hello world", started: make(chan struct{}, 16)}
}

func (e *mockEngine) Probe() error { return e.availErr }

func (e *mockEngine) Load(path string) (NativeModel, error) {
	if e.loadErr != nil {
		return nil, e.loadErr
	}
	e.loads.Add(1)
	return &mockModel{engine: e}, nil
}

func (e *mockEngine) GPUDevices() []string { return e.gpus }

func (e *mockEngine) params() NativeParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastParams
}

type mockModel struct {
	engine *mockEngine
}

func (m *mockModel) Multilingual() bool { return m.engine.multilingual }

func (m *mockModel) Transcribe(samples []float32, p NativeParams) (string, []NativeSegment, error) {
	e := m.engine
	e.calls.Add(1)
	e.mu.Lock()
	e.lastParams = p
	e.mu.Unlock()
	select {
	case e.started <- struct{}{}:
	default:
	}
	if e.gate != nil {
		<-e.gate
	}
	end := samplesDuration(len(samples), SampleRate)
	return "en", []NativeSegment{{
		Start: 0,
		End:   end,
		Text:  e.text,
		Tokens: []NativeToken{
			{Text: " hello", P: 0.9, Start: 0, End: end / 2},
			{Text: " world", P: 0.7, Start: end / 2, End: end},
		},
	}}, nil
}

func (m *mockModel) DetectLanguage(samples []float32, threads int) (string, error) {
	return "de", nil
}

func (m *mockModel) Close() error {
	m.engine.closed.Add(1)
	return nil
}

// writeFakeModel creates a file with the ggml magic for id in dir.
func writeFakeModel(t *testing.T, dir, id string) string {
	t.Helper()
	model, ok := models.Lookup(id)
	if !ok {
		t.Fatalf("unknown catalog model %q", id)
	}
	path := filepath.Join(dir, model.File)
	data := make([]byte, 64)
	binary.LittleEndian.PutUint32(data, 0x67676d6c)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write fake model: %v", err)
	}
	return path
}

// newTestLocal returns a local backend over a mock engine with base.en on
// disk but not loaded.
func newTestLocal(t *testing.T, engine *mockEngine) *LocalBackend {
	t.Helper()
	dir := t.TempDir()
	writeFakeModel(t, dir, "base.en")
	writeFakeModel(t, dir, "base")
	l := NewLocalBackend(engine, models.NewManager(dir), LocalConfig{Threads: 2})
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// tone returns d of a 440 Hz sine at amplitude amp.
func tone(d time.Duration, rate int, amp float32) []float32 {
	n := int(d.Seconds() * float64(rate))
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return out
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

var errBoom = errors.New("boom")
