// Package events defines the caller-facing event taxonomy shared by the
// capture and transcription engines, and the channel bus that delivers it.
package events

import (
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type int

const (
	Level Type = iota + 1
	VoiceDetected
	Progress
	PartialResult
	Completed
	Error
	ModelLoaded
	DeviceChanged
)

var typeNames = map[Type]string{
	Level:         "level",
	VoiceDetected: "voice-detected",
	Progress:      "progress",
	PartialResult: "partial-result",
	Completed:     "completed",
	Error:         "error",
	ModelLoaded:   "model-loaded",
	DeviceChanged: "device-changed",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// ParseType returns the Type for a wire name such as "partial-result".
func ParseType(name string) (Type, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("events: unknown event type %q", name)
}

// Event is a single notification. Only the fields relevant to Type are set.
type Event struct {
	Type Type
	Time time.Time

	// Level
	Level float32
	Peak  float32

	// VoiceDetected: true when speech starts, false when it ends.
	Active bool

	// Progress, PartialResult, Completed, Error
	JobID     string
	SessionID string
	Progress  float64
	Phase     string
	Text      string
	Language  string
	Final     bool

	// ModelLoaded
	ModelID string

	// DeviceChanged
	DeviceID   string
	DeviceName string
	Connected  bool

	Err error
}
