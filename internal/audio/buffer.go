package audio

import (
	"time"
)

// Buffer is a block of interleaved float32 PCM. Whoever last dequeued a
// Buffer owns it exclusively.
type Buffer struct {
	Samples    []float32
	Frames     int
	Channels   int
	SampleRate int
	Timestamp  time.Time
}

// NewBuffer wraps interleaved samples.
func NewBuffer(samples []float32, channels, sampleRate int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{
		Samples:    samples,
		Frames:     len(samples) / channels,
		Channels:   channels,
		SampleRate: sampleRate,
		Timestamp:  time.Now(),
	}
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames) * time.Second / time.Duration(b.SampleRate)
}

// Mono returns the buffer downmixed to a single channel. A mono buffer is
// returned as-is without copying.
func (b *Buffer) Mono() []float32 {
	if b == nil {
		return nil
	}
	return Downmix(b.Samples, b.Channels)
}

// Downmix averages interleaved channels into one.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Upmix duplicates mono samples into the given channel count.
func Upmix(mono []float32, channels int) []float32 {
	if channels <= 1 {
		return mono
	}
	out := make([]float32, len(mono)*channels)
	for i, v := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(from) / float64(to)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// Int16ToFloat32 converts fixed-point samples to [-1, 1).
func Int16ToFloat32(src []int16) []float32 {
	out := make([]float32, len(src))
	for i, s := range src {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalized samples to fixed point, clipping.
func Float32ToInt16(src []float32) []int16 {
	out := make([]int16, len(src))
	for i, s := range src {
		v := s * 32768.0
		switch {
		case v > 32767:
			v = 32767
		case v < -32768:
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// concat merges queued buffers into one.
func concat(bufs []Buffer, channels, sampleRate int) *Buffer {
	total := 0
	for _, b := range bufs {
		total += len(b.Samples)
	}
	out := &Buffer{
		Samples:    make([]float32, 0, total),
		Channels:   channels,
		SampleRate: sampleRate,
		Timestamp:  time.Now(),
	}
	if len(bufs) > 0 {
		out.Timestamp = bufs[0].Timestamp
	}
	for _, b := range bufs {
		out.Samples = append(out.Samples, b.Samples...)
		out.Frames += b.Frames
	}
	return out
}
