package audio

import "errors"

var (
	// ErrDevice covers enumeration and activation failures.
	ErrDevice = errors.New("audio: device error")

	// ErrDeviceLost is reported when the capture device disappears mid-recording.
	ErrDeviceLost = errors.New("audio: device lost")

	// ErrDeviceNotFound is returned for an unknown device id.
	ErrDeviceNotFound = errors.New("audio: device not found")

	ErrAlreadyRecording = errors.New("audio: already recording")
	ErrNotRecording     = errors.New("audio: not recording")
	ErrClosed           = errors.New("audio: recorder closed")

	// ErrBufferOverrun is never returned from a call. Overruns are counted in
	// Stats and logged as a warning when the session stops.
	ErrBufferOverrun = errors.New("audio: buffer overrun")
)
