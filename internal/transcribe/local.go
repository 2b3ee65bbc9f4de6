package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/chaz8081/voicecore/internal/models"
)

// ModelState is the local model lifecycle.
type ModelState int32

const (
	ModelUnloaded ModelState = iota
	ModelLoading
	ModelLoaded
	ModelUnloading
)

func (s ModelState) String() string {
	switch s {
	case ModelUnloaded:
		return "unloaded"
	case ModelLoading:
		return "loading"
	case ModelLoaded:
		return "loaded"
	case ModelUnloading:
		return "unloading"
	default:
		return "unknown"
	}
}

// LocalConfig configures a LocalBackend.
type LocalConfig struct {
	Threads int
	GPU     bool
	Stream  StreamOptions
}

// LocalBackend runs inference in-process through a NativeEngine. One model
// is held at a time and one inference runs at a time.
type LocalBackend struct {
	*base
	engine  NativeEngine
	manager *models.Manager
	threads int
	gpu     bool

	// modelMu guards the model handle and serializes load, unload and
	// inference.
	modelMu sync.Mutex
	model   NativeModel
	modelID string

	state    atomic.Int32
	loaded   atomic.Value // string, readable during inference
	busy     atomic.Bool
	gpuIndex atomic.Int32
}

// NewLocalBackend creates a local backend. Models are resolved through
// manager.
func NewLocalBackend(engine NativeEngine, manager *models.Manager, cfg LocalConfig) *LocalBackend {
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	l := &LocalBackend{
		base:    newBase(BackendLocal, 1, false, cfg.Stream),
		engine:  engine,
		manager: manager,
		threads: cfg.Threads,
		gpu:     cfg.GPU,
	}
	l.run = l.transcribe
	l.runFile = l.transcribeFile
	l.ready = l.requireModel
	return l
}

// Probe checks the engine is compiled in and the CPU can run it.
func (l *LocalBackend) Probe(ctx context.Context) error {
	if err := checkCPUSupport(); err != nil {
		return err
	}
	return l.engine.Probe()
}

// State returns the model lifecycle state without blocking on inference.
func (l *LocalBackend) State() ModelState {
	return ModelState(l.state.Load())
}

// AvailableModels lists the catalog with download and load state.
func (l *LocalBackend) AvailableModels() []models.Model {
	list := l.manager.List()
	loaded := l.loadedID()
	for i := range list {
		list[i].Loaded = list[i].ID == loaded
	}
	return list
}

// LoadModel loads a catalog model, unloading any previous one under the
// same lock hold so no call ever sees a half-swapped model.
func (l *LocalBackend) LoadModel(ctx context.Context, id string) error {
	path, err := l.modelPath(id)
	if err != nil {
		return err
	}

	l.modelMu.Lock()
	defer l.modelMu.Unlock()

	if l.model != nil && l.modelID == id {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.unloadLocked()

	l.state.Store(int32(ModelLoading))
	slog.Info("[TRANSCRIBE] loading model", "model", id, "path", path)
	model, err := l.engine.Load(path)
	if err != nil {
		l.state.Store(int32(ModelUnloaded))
		return fmt.Errorf("%w: %s: %w", ErrModelLoadFailed, id, err)
	}
	l.model = model
	l.modelID = id
	l.loaded.Store(id)
	l.state.Store(int32(ModelLoaded))

	slog.Info("[TRANSCRIBE] model loaded", "model", id, "multilingual", model.Multilingual())
	l.notices.notify(Notice{Kind: NoticeModelLoaded, ModelID: id})
	return nil
}

// UnloadModel releases the current model, if any.
func (l *LocalBackend) UnloadModel() {
	l.modelMu.Lock()
	defer l.modelMu.Unlock()
	l.unloadLocked()
}

// Transcribe runs inference on mono samples at sampleRate. Only one
// synchronous call may be in flight; a second gets ErrAlreadyProcessing.
// Native inference cannot be interrupted: ctx is only checked before it
// starts.
func (l *LocalBackend) Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	if err := l.requireModel(); err != nil {
		return nil, err
	}
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrAlreadyProcessing
	}
	defer l.busy.Store(false)
	return l.transcribe(ctx, samples, sampleRate, opts)
}

// TranscribeFile transcribes a WAV file.
func (l *LocalBackend) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	if err := l.requireModel(); err != nil {
		return nil, err
	}
	if !l.busy.CompareAndSwap(false, true) {
		return nil, ErrAlreadyProcessing
	}
	defer l.busy.Store(false)
	return l.transcribeFile(ctx, path, opts)
}

// DetectLanguage looks at the first 30 seconds. English-only models
// always answer "en".
func (l *LocalBackend) DetectLanguage(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := l.requireModel(); err != nil {
		return "", err
	}
	if !l.busy.CompareAndSwap(false, true) {
		return "", ErrAlreadyProcessing
	}
	defer l.busy.Store(false)

	input, err := prepare(samples, sampleRate)
	if err != nil {
		return "", err
	}

	l.modelMu.Lock()
	defer l.modelMu.Unlock()
	if l.model == nil {
		return "", ErrModelNotLoaded
	}
	if !l.model.Multilingual() {
		return "en", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lang, err := l.model.DetectLanguage(window(input, detectWindow), l.threads)
	if err != nil {
		return "", fmt.Errorf("%w: detect language: %w", ErrTranscriptionFailed, err)
	}
	return lang, nil
}

// StartStreaming opens a session that runs inference on each flush.
func (l *LocalBackend) StartStreaming(cfg StreamConfig) (string, error) {
	return l.directStreaming(cfg)
}

// GPUDevices lists devices the engine can offload to.
func (l *LocalBackend) GPUDevices() []string {
	return l.engine.GPUDevices()
}

// SelectGPU picks the device used when Options.UseGPU is set.
func (l *LocalBackend) SelectGPU(index int) error {
	devices := l.engine.GPUDevices()
	if index < 0 || index >= len(devices) {
		return fmt.Errorf("transcribe: gpu %d not available (%d devices)", index, len(devices))
	}
	l.gpuIndex.Store(int32(index))
	return nil
}

// PerformanceStats reports throughput plus the model, threads and hardware.
func (l *LocalBackend) PerformanceStats() PerformanceStats {
	s := l.stats()
	s.Model = l.loadedID()
	s.Threads = l.threads
	s.CPUFeatures = cpuFeatures()
	if devices := l.engine.GPUDevices(); l.gpu && len(devices) > 0 {
		if i := int(l.gpuIndex.Load()); i < len(devices) {
			s.GPU = devices[i]
		}
	}
	return s
}

// Close stops queued work and sessions, then releases the model.
func (l *LocalBackend) Close() error {
	l.close()
	l.UnloadModel()
	return nil
}

func (l *LocalBackend) transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error) {
	input, err := prepare(samples, sampleRate)
	if err != nil {
		return nil, err
	}
	audioLen := samplesDuration(len(input), SampleRate)

	l.modelMu.Lock()
	defer l.modelMu.Unlock()
	if l.model == nil {
		return nil, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if silent(input, opts) {
		res := emptyResult(input, opts)
		res.Backend, res.Model = l.name, l.modelID
		return res, nil
	}

	model, modelID := l.model, l.modelID
	return l.timed(audioLen, func() (*Result, error) {
		lang, segs, err := model.Transcribe(input, l.params(model, opts))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
		}
		res := &Result{
			Language: lang,
			Duration: audioLen,
			Segments: segmentsFromNative(segs, opts),
			Model:    modelID,
		}
		if !model.Multilingual() {
			res.Language = "en"
		} else if want := opts.language(); want != "auto" {
			res.Language = want
		}
		finish(res, opts)
		return res, nil
	})
}

func (l *LocalBackend) transcribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	samples, rate, err := loadAudioFile(path)
	if err != nil {
		return nil, err
	}
	return l.transcribe(ctx, samples, rate, opts)
}

func (l *LocalBackend) params(model NativeModel, opts Options) NativeParams {
	p := NativeParams{
		Threads:         l.threads,
		BeamSize:        opts.BeamSize,
		Temperature:     opts.Temperature,
		Prompt:          opts.Prompt,
		TokenTimestamps: opts.Timestamps,
		UseGPU:          opts.UseGPU && l.gpu,
		GPUDevice:       int(l.gpuIndex.Load()),
	}
	if model.Multilingual() {
		p.Language = opts.language()
	}
	return p
}

// modelPath resolves a catalog id to a verified file. A path to an existing
// file is accepted as-is.
func (l *LocalBackend) modelPath(id string) (string, error) {
	if _, ok := models.Lookup(id); !ok {
		if info, err := os.Stat(id); err == nil && !info.IsDir() {
			if err := models.Verify(id, ""); err != nil {
				return "", err
			}
			return id, nil
		}
	}
	return l.manager.Resolve(id)
}

func (l *LocalBackend) requireModel() error {
	if l.State() != ModelLoaded {
		return ErrModelNotLoaded
	}
	return nil
}

func (l *LocalBackend) loadedID() string {
	if l.State() != ModelLoaded {
		return ""
	}
	id, _ := l.loaded.Load().(string)
	return id
}

// unloadLocked closes the current model. Callers hold modelMu.
func (l *LocalBackend) unloadLocked() {
	if l.model == nil {
		return
	}
	l.state.Store(int32(ModelUnloading))
	if err := l.model.Close(); err != nil {
		slog.Warn("[TRANSCRIBE] model close failed", "model", l.modelID, "error", err)
	}
	slog.Info("[TRANSCRIBE] model unloaded", "model", l.modelID)
	l.model = nil
	l.modelID = ""
	l.loaded.Store("")
	l.state.Store(int32(ModelUnloaded))
}
