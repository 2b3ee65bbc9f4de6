package audio

import (
	"fmt"
	"io"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// LoadWAV reads an integer PCM WAV file into a normalized float32 buffer.
func LoadWAV(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open wav: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := wav.NewDecoder(f)
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: decode wav %s: %w", path, err)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("audio: %s: unsupported wav encoding %d (want integer PCM)", path, dec.WavAudioFormat)
	}
	if pcm.Format == nil || pcm.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("audio: %s: missing wav format", path)
	}

	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("audio: %s: unsupported bit depth %d", path, depth)
	}
	scale := float32(int64(1) << (depth - 1))
	// 8-bit wav is unsigned.
	offset := 0
	if depth == 8 {
		offset = 128
	}

	samples := make([]float32, len(pcm.Data))
	for i, s := range pcm.Data {
		samples[i] = float32(s-offset) / scale
	}

	channels := pcm.Format.NumChannels
	return &Buffer{
		Samples:    samples,
		Frames:     len(samples) / channels,
		Channels:   channels,
		SampleRate: pcm.Format.SampleRate,
		Timestamp:  time.Now(),
	}, nil
}

// EncodeWAV writes buf as 16-bit PCM WAV to w.
func EncodeWAV(w io.WriteSeeker, buf *Buffer) error {
	if buf == nil || buf.SampleRate <= 0 || buf.Channels <= 0 {
		return fmt.Errorf("audio: encode wav: invalid buffer format")
	}
	enc := wav.NewEncoder(w, buf.SampleRate, 16, buf.Channels, wavFormatPCM)

	ints := make([]int, len(buf.Samples))
	for i, s := range Float32ToInt16(buf.Samples) {
		ints[i] = int(s)
	}
	ib := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: buf.Channels, SampleRate: buf.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}

// SaveWAV writes buf to path as 16-bit PCM WAV.
func SaveWAV(path string, buf *Buffer) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}
	if err := EncodeWAV(f, buf); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
