package dsp

import (
	"math"
	"sync/atomic"
)

// LevelSmoothing is the exponential smoothing coefficient of the display meter.
const LevelSmoothing = 0.9

// LevelMeter tracks a smoothed RMS level and a running peak. Update is
// called from the capture thread; the getters are safe from any goroutine.
type LevelMeter struct {
	level atomic.Uint32 // float32 bits
	peak  atomic.Uint32
}

// Update folds one frame of samples into the meter and returns the raw
// frame RMS and peak.
func (m *LevelMeter) Update(samples []float32) (rms, peak float32) {
	rms = RMS(samples)
	peak = PeakAbs(samples)

	prev := math.Float32frombits(m.level.Load())
	m.level.Store(math.Float32bits(prev*LevelSmoothing + rms*(1-LevelSmoothing)))

	for {
		old := m.peak.Load()
		if peak <= math.Float32frombits(old) {
			break
		}
		if m.peak.CompareAndSwap(old, math.Float32bits(peak)) {
			break
		}
	}
	return rms, peak
}

// Level returns the smoothed RMS level.
func (m *LevelMeter) Level() float32 {
	return math.Float32frombits(m.level.Load())
}

// Peak returns the highest absolute sample seen since the last reset.
func (m *LevelMeter) Peak() float32 {
	return math.Float32frombits(m.peak.Load())
}

// ResetPeak clears the running peak.
func (m *LevelMeter) ResetPeak() {
	m.peak.Store(0)
}

// Reset clears both level and peak.
func (m *LevelMeter) Reset() {
	m.level.Store(0)
	m.peak.Store(0)
}
