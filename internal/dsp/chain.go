// Package dsp implements the per-frame audio processing chain, the level
// meter and voice activity detection used by the capture engine.
package dsp

import (
	"math"
	"sync/atomic"
)

const (
	noiseGateThreshold = 0.01
	noiseGateRatio     = 0.1

	agcTarget  = 0.3
	agcMinGain = 0.1
	agcMaxGain = 4.0
	agcFloor   = 0.001

	echoAttenuation = 0.5
)

// Settings toggles the individual stages of a Chain.
type Settings struct {
	Gain             float32 // linear, 1.0 = unity
	NoiseSuppression bool
	AGC              bool
	EchoSuppression  bool
}

// DefaultSettings returns unity gain with every optional stage disabled.
func DefaultSettings() Settings {
	return Settings{Gain: 1.0}
}

// Chain applies gain, noise gate, automatic gain control and echo
// suppression, in that order, to interleaved float32 samples.
//
// Settings can be swapped from any goroutine while Process runs on the
// capture thread; Process never blocks.
type Chain struct {
	settings atomic.Pointer[Settings]
}

// NewChain creates a chain with the given settings.
func NewChain(s Settings) *Chain {
	c := &Chain{}
	c.Set(s)
	return c
}

// Set replaces the chain settings. A non-positive gain means unity.
func (c *Chain) Set(s Settings) {
	if s.Gain <= 0 {
		s.Gain = 1.0
	}
	c.settings.Store(&s)
}

// Settings returns the current settings.
func (c *Chain) Settings() Settings {
	return *c.settings.Load()
}

// Process transforms samples in place.
func (c *Chain) Process(samples []float32) {
	if len(samples) == 0 {
		return
	}
	s := c.settings.Load()

	if s.Gain != 1.0 {
		for i := range samples {
			samples[i] *= s.Gain
		}
	}

	if s.NoiseSuppression {
		for i, v := range samples {
			if abs32(v) < noiseGateThreshold {
				samples[i] = v * noiseGateRatio
			}
		}
	}

	if s.AGC {
		rms := RMS(samples)
		if rms > agcFloor {
			gain := clamp32(agcTarget/rms, agcMinGain, agcMaxGain)
			for i := range samples {
				samples[i] *= gain
			}
		}
	}

	if s.EchoSuppression {
		for i := range samples {
			samples[i] *= echoAttenuation
		}
	}
}

// RMS returns the root-mean-square of samples.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

// PeakAbs returns the largest absolute sample value.
func PeakAbs(samples []float32) float32 {
	var peak float32
	for _, v := range samples {
		if a := abs32(v); a > peak {
			peak = a
		}
	}
	return peak
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
