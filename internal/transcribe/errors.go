package transcribe

import (
	"errors"

	"github.com/chaz8081/voicecore/internal/models"
)

var (
	ErrModelNotLoaded    = errors.New("transcribe: model not loaded")
	ErrAlreadyProcessing = errors.New("transcribe: already processing")

	// ErrAudioTooLarge is returned before any upload when the encoded payload
	// exceeds the remote limit.
	ErrAudioTooLarge = errors.New("transcribe: audio too large")

	ErrUnsupportedFormat   = errors.New("transcribe: unsupported audio format")
	ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

	// ErrStreamingDisconnected marks transport-level failures. Only errors
	// wrapping it trigger a streaming reconnect.
	ErrStreamingDisconnected = errors.New("transcribe: streaming disconnected")

	ErrNotImplemented    = errors.New("transcribe: not implemented")
	ErrEngineUnavailable = errors.New("transcribe: engine unavailable")
	ErrJobNotFound       = errors.New("transcribe: job not found")
	ErrSessionNotFound   = errors.New("transcribe: session not found")
	ErrClosed            = errors.New("transcribe: backend closed")

	// Shared with the models package so errors.Is works across both.
	ErrUnknownModel    = models.ErrUnknownModel
	ErrModelLoadFailed = models.ErrModelLoadFailed
)
