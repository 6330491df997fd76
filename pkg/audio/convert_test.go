package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/sharon/pkg/audio"
)

func TestResample_SameRate(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := audio.Resample(in, 24000, 24000)
	if &out[0] != &in[0] {
		t.Fatal("expected input returned unchanged for matching rates")
	}
}

func TestResample_Upsample(t *testing.T) {
	in := []float32{0, 1}
	out := audio.Resample(in, 16000, 32000)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	want := []float32{0, 0.5, 1, 1}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestResample_Downsample(t *testing.T) {
	in := make([]float32, 480)
	out := audio.Resample(in, 48000, 24000)
	if len(out) != 240 {
		t.Fatalf("len = %d, want 240", len(out))
	}
}

func TestResample_ZeroRate(t *testing.T) {
	in := []float32{0.5}
	if out := audio.Resample(in, 0, 24000); len(out) != 1 {
		t.Fatalf("zero source rate: len = %d, want 1", len(out))
	}
	if out := audio.Resample(in, 24000, 0); len(out) != 1 {
		t.Fatalf("zero target rate: len = %d, want 1", len(out))
	}
}

func TestClip(t *testing.T) {
	tests := []struct {
		in, want float32
	}{
		{0.5, 0.5},
		{1.5, 1},
		{-3, -1},
		{-1, -1},
	}
	for _, tt := range tests {
		if got := audio.Clip(tt.in); got != tt.want {
			t.Errorf("Clip(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
