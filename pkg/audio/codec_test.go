package audio_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/sharon/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestEncode_SilenceFrame(t *testing.T) {
	t.Parallel()

	p := audio.Encode(make([]float32, 4096))
	if p.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("MIMEType = %q, want audio/pcm;rate=16000", p.MIMEType)
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	if len(raw) != 8192 {
		t.Fatalf("len = %d, want 8192", len(raw))
	}
	for i, b := range raw {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0", i, b)
		}
	}
}

func TestEncodePCM_Values(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"full negative", -1, -32768},
		{"full positive saturates", 1, 32767},
		{"over range saturates", 1.7, 32767},
		{"under range saturates", -2, -32768},
		{"nan is silence", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw := audio.EncodePCM([]float32{tt.in})
			got := int16(binary.LittleEndian.Uint16(raw))
			if got != tt.want {
				t.Errorf("EncodePCM(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecode_Values(t *testing.T) {
	t.Parallel()

	buf, err := audio.Decode(samplesToBytes([]int16{0, 16384, -32768, 32767}), 24000, 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Channels() != 1 || buf.Frames() != 4 {
		t.Fatalf("shape = %dx%d, want 1x4", buf.Channels(), buf.Frames())
	}
	want := []float32{0, 0.5, -1, 32767.0 / 32768.0}
	for i := range want {
		if buf.Data[0][i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, buf.Data[0][i], want[i])
		}
	}
}

func TestDecode_Duration(t *testing.T) {
	t.Parallel()

	buf, err := audio.Decode(make([]byte, 48000), 24000, 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Duration() != time.Second {
		t.Errorf("Duration = %v, want 1s", buf.Duration())
	}
}

func TestDecode_Stereo(t *testing.T) {
	t.Parallel()

	buf, err := audio.Decode(samplesToBytes([]int16{100, -100, 200, -200}), 24000, 2)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Channels() != 2 || buf.Frames() != 2 {
		t.Fatalf("shape = %dx%d, want 2x2", buf.Channels(), buf.Frames())
	}
	if buf.Data[1][1] != -200.0/32768.0 {
		t.Errorf("right channel sample 1 = %v", buf.Data[1][1])
	}
	for _, s := range buf.Mono() {
		if s != 0 {
			t.Errorf("mono fold of opposite channels = %v, want 0", s)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		data     []byte
		rate     int
		channels int
	}{
		{"odd byte count", make([]byte, 3), 24000, 1},
		{"stereo misaligned", make([]byte, 6), 24000, 2},
		{"zero channels", make([]byte, 4), 24000, 0},
		{"zero rate", make([]byte, 4), 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.Decode(tt.data, tt.rate, tt.channels)
			if !errors.Is(err, audio.ErrMalformedAudio) {
				t.Fatalf("err = %v, want ErrMalformedAudio", err)
			}
		})
	}
}

func TestDecode_Empty(t *testing.T) {
	t.Parallel()

	buf, err := audio.Decode(nil, 24000, 1)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if buf.Frames() != 0 || buf.Duration() != 0 {
		t.Errorf("empty buffer has %d frames, %v", buf.Frames(), buf.Duration())
	}
}

func TestRoundTrip_Precision(t *testing.T) {
	t.Parallel()

	in := make([]float32, 1000)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) * 0.05))
	}
	p := audio.EncodeRate(in, 24000)
	buf, err := audio.DecodePacket(p, 16000, 1)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	if buf.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want rate from MIME type", buf.SampleRate)
	}
	const tol = 2.0 / 32768.0
	for i, s := range buf.Data[0] {
		if d := math.Abs(float64(s - in[i])); d > tol {
			t.Fatalf("sample %d drifted by %v", i, d)
		}
	}
}

func TestDecodePacket_BadBase64(t *testing.T) {
	t.Parallel()

	_, err := audio.DecodePacket(audio.Packet{Data: "!!!", MIMEType: "audio/pcm"}, 24000, 1)
	if !errors.Is(err, audio.ErrMalformedAudio) {
		t.Fatalf("err = %v, want ErrMalformedAudio", err)
	}
}

func TestParseMIMERate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		rate int
		ok   bool
	}{
		{"audio/pcm;rate=24000", 24000, true},
		{"audio/pcm; rate=16000", 16000, true},
		{"audio/pcm", 0, false},
		{"audio/pcm;rate=abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		rate, ok := audio.ParseMIMERate(tt.in)
		if rate != tt.rate || ok != tt.ok {
			t.Errorf("ParseMIMERate(%q) = %d, %v; want %d, %v", tt.in, rate, ok, tt.rate, tt.ok)
		}
	}
}

func TestFrame_Duration(t *testing.T) {
	t.Parallel()

	f := audio.Frame{Samples: make([]float32, 4096), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 256*time.Millisecond {
		t.Errorf("Duration = %v, want 256ms", got)
	}
}
