package dsp

import "time"

const (
	// VADSmoothing is intentionally heavier than LevelSmoothing so the
	// speech decision is steadier than the meter.
	VADSmoothing = 0.95

	DefaultVADThreshold = 0.01
	DefaultVADHangover  = 2 * time.Second
)

// Transition is the outcome of a VAD update.
type Transition int

const (
	NoChange Transition = iota
	SpeechStarted
	SpeechEnded
)

func (t Transition) String() string {
	switch t {
	case SpeechStarted:
		return "speech-started"
	case SpeechEnded:
		return "speech-ended"
	default:
		return "none"
	}
}

// VAD is an energy-threshold voice activity detector. Silence is measured
// in audio time, so results do not depend on how fast frames are delivered.
// Not safe for concurrent use; it belongs to the capture thread.
type VAD struct {
	Threshold float32
	Hangover  time.Duration

	level   float32
	active  bool
	silence time.Duration
}

// NewVAD creates a detector. Zero values select the defaults.
func NewVAD(threshold float32, hangover time.Duration) *VAD {
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	if hangover <= 0 {
		hangover = DefaultVADHangover
	}
	return &VAD{Threshold: threshold, Hangover: hangover}
}

// Update processes one frame of interleaved samples. frames is the number
// of sample frames the slice represents at sampleRate.
func (v *VAD) Update(samples []float32, frames, sampleRate int) Transition {
	rms := RMS(samples)
	v.level = v.level*VADSmoothing + rms*(1-VADSmoothing)

	if v.level > v.Threshold {
		v.silence = 0
		if !v.active {
			v.active = true
			return SpeechStarted
		}
		return NoChange
	}

	if !v.active || sampleRate <= 0 {
		return NoChange
	}
	v.silence += time.Duration(frames) * time.Second / time.Duration(sampleRate)
	if v.silence >= v.Hangover {
		v.active = false
		v.silence = 0
		return SpeechEnded
	}
	return NoChange
}

// Active reports whether speech is currently detected.
func (v *VAD) Active() bool { return v.active }

// Level returns the smoothed VAD energy.
func (v *VAD) Level() float32 { return v.level }

// Reset returns the detector to its initial silent state.
func (v *VAD) Reset() {
	v.level = 0
	v.active = false
	v.silence = 0
}
