//go:build !whisper_cpp

package transcribe

import "fmt"

// NewWhisperEngine returns a stub when built without the whisper_cpp tag.
func NewWhisperEngine() NativeEngine {
	return stubEngine{}
}

type stubEngine struct{}

func (stubEngine) Probe() error {
	return fmt.Errorf("%w: built without whisper_cpp tag", ErrEngineUnavailable)
}

func (stubEngine) Load(path string) (NativeModel, error) {
	return nil, fmt.Errorf("%w: cannot load %s without whisper_cpp tag", ErrNotImplemented, path)
}

func (stubEngine) GPUDevices() []string { return nil }
