package transcribe

import (
	"time"
)

// NativeParams are the per-call parameters handed to a native engine.
type NativeParams struct {
	Language        string // "" leaves the model default
	Threads         int
	BeamSize        int
	Temperature     float32
	Prompt          string
	TokenTimestamps bool
	UseGPU          bool
	GPUDevice       int
	// Progress receives percent complete, may be nil.
	Progress func(percent int)
}

// NativeToken is a decoded token with its probability.
type NativeToken struct {
	Text  string
	P     float32
	Start time.Duration
	End   time.Duration
}

// NativeSegment is one segment as produced by the engine.
type NativeSegment struct {
	Start  time.Duration
	End    time.Duration
	Text   string
	Tokens []NativeToken
}

// NativeEngine loads models for in-process inference.
type NativeEngine interface {
	// Probe reports whether the engine was built in and can run here.
	Probe() error
	Load(path string) (NativeModel, error)
	GPUDevices() []string
}

// NativeModel is a loaded model. Calls on one model are never concurrent.
type NativeModel interface {
	Multilingual() bool
	// Transcribe runs full inference on mono 16 kHz samples and returns the
	// detected language with the segments.
	Transcribe(samples []float32, params NativeParams) (string, []NativeSegment, error)
	DetectLanguage(samples []float32, threads int) (string, error)
	Close() error
}
