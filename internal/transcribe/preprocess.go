package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chaz8081/voicecore/internal/audio"
	"github.com/chaz8081/voicecore/internal/dsp"
)

// normalizePeak is the peak above which input is scaled back down.
const normalizePeak = 0.95

// detectWindow is how much audio language detection looks at.
const detectWindow = 30 * time.Second

// prepare converts mono samples at sampleRate into 16 kHz input for the
// recognizer: resampled, and normalized when the peak is too hot. The input
// slice is never modified.
func prepare(samples []float32, sampleRate int) ([]float32, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrUnsupportedFormat, sampleRate)
	}
	out := samples
	if sampleRate != SampleRate {
		out = audio.Resample(samples, sampleRate, SampleRate)
	} else {
		out = append([]float32(nil), samples...)
	}
	if peak := dsp.PeakAbs(out); peak > normalizePeak {
		scale := normalizePeak / peak
		for i := range out {
			out[i] *= scale
		}
	}
	return out, nil
}

// loadAudioFile decodes a WAV file to mono samples at its native rate.
func loadAudioFile(path string) ([]float32, int, error) {
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return nil, 0, fmt.Errorf("%w: %s (only wav is decoded locally)", ErrUnsupportedFormat, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, 0, fmt.Errorf("transcribe: %w", err)
	}
	buf, err := audio.LoadWAV(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	if buf.Frames == 0 {
		return nil, 0, fmt.Errorf("%w: %s has no audio", ErrUnsupportedFormat, filepath.Base(path))
	}
	return buf.Mono(), buf.SampleRate, nil
}

// silent reports whether opts.VAD applies and the input RMS is at or below
// the threshold, in which case inference is skipped.
func silent(samples []float32, opts Options) bool {
	if !opts.VAD {
		return false
	}
	threshold := opts.VADThreshold
	if threshold <= 0 {
		threshold = DefaultVADThreshold
	}
	return dsp.RMS(samples) <= threshold
}

// emptyResult is returned for silent input.
func emptyResult(samples []float32, opts Options) *Result {
	lang := opts.language()
	if lang == "auto" {
		lang = ""
	}
	return &Result{
		Language: lang,
		Duration: samplesDuration(len(samples), SampleRate),
	}
}

// window returns at most the first d of 16 kHz samples.
func window(samples []float32, d time.Duration) []float32 {
	n := int(d.Seconds() * SampleRate)
	if len(samples) > n {
		return samples[:n]
	}
	return samples
}
