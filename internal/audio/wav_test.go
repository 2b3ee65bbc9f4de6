package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	in := NewBuffer(tone(0.25, 16000, 0.5), 1, 16000)

	if err := SaveWAV(path, in); err != nil {
		t.Fatalf("SaveWAV() error = %v", err)
	}

	out, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV() error = %v", err)
	}
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Errorf("format = %dHz %dch, want 16000Hz 1ch", out.SampleRate, out.Channels)
	}
	if out.Frames != in.Frames {
		t.Fatalf("Frames = %d, want %d", out.Frames, in.Frames)
	}
	for i := range in.Samples {
		if math.Abs(float64(in.Samples[i]-out.Samples[i])) > 1.0/16384 {
			t.Fatalf("sample %d = %v, want %v", i, out.Samples[i], in.Samples[i])
		}
	}
}

func TestSaveLoadWAVStereo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo.wav")
	in := NewBuffer([]float32{0.25, -0.25, 0.5, -0.5}, 2, 8000)
	if err := SaveWAV(path, in); err != nil {
		t.Fatalf("SaveWAV() error = %v", err)
	}
	out, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV() error = %v", err)
	}
	if out.Channels != 2 || out.Frames != 2 {
		t.Errorf("got %dch %d frames, want 2ch 2 frames", out.Channels, out.Frames)
	}
}

func TestLoadWAVErrors(t *testing.T) {
	if _, err := LoadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("LoadWAV(missing) should fail")
	}

	garbage := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(garbage, []byte("this is not a wav file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWAV(garbage); err == nil {
		t.Error("LoadWAV(garbage) should fail")
	}
}

func TestEncodeWAVInvalidBuffer(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "x.wav"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := EncodeWAV(f, &Buffer{}); err == nil {
		t.Error("EncodeWAV with zero format should fail")
	}
}

func TestInt16ToFloat32(t *testing.T) {
	tests := []struct {
		in   int16
		want float32
	}{
		{0, 0},
		{16384, 0.5},
		{-32768, -1},
		{-16384, -0.5},
	}
	for _, tt := range tests {
		got := Int16ToFloat32([]int16{tt.in})
		if got[0] != tt.want {
			t.Errorf("Int16ToFloat32(%d) = %v, want %v", tt.in, got[0], tt.want)
		}
	}
}

func TestFloat32ToInt16Clips(t *testing.T) {
	got := Float32ToInt16([]float32{1.5, -1.5, 0.5})
	if got[0] != 32767 || got[1] != -32768 || got[2] != 16384 {
		t.Errorf("Float32ToInt16 = %v", got)
	}
}

func TestResample(t *testing.T) {
	in := make([]float32, 48000)
	for i := range in {
		in[i] = float32(i%48) / 48
	}
	out := Resample(in, 48000, 16000)
	if len(out) != 16000 {
		t.Fatalf("len = %d, want 16000", len(out))
	}
	if out[1] != in[3] {
		t.Errorf("out[1] = %v, want in[3] = %v", out[1], in[3])
	}
	if same := Resample(in, 16000, 16000); len(same) != len(in) {
		t.Error("same-rate resample should be identity")
	}
	up := Resample([]float32{0, 1}, 1, 2)
	if len(up) != 4 || up[1] != 0.5 {
		t.Errorf("upsample = %v", up)
	}
}

func TestDownmixUpmix(t *testing.T) {
	mono := Downmix([]float32{1, 0, 0.5, 0.5}, 2)
	if len(mono) != 2 || mono[0] != 0.5 || mono[1] != 0.5 {
		t.Errorf("Downmix = %v", mono)
	}
	stereo := Upmix([]float32{0.1, 0.2}, 2)
	if len(stereo) != 4 || stereo[1] != 0.1 || stereo[2] != 0.2 {
		t.Errorf("Upmix = %v", stereo)
	}
	b := NewBuffer([]float32{1, 0, 0, 1}, 2, 8000)
	if got := b.Mono(); len(got) != 2 {
		t.Errorf("Mono() len = %d", len(got))
	}
}
