package audio

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Frame is a fixed-size block of captured mono or interleaved audio flowing
// from the microphone towards the model. Samples are normalised to [-1, 1].
type Frame struct {
	// Samples holds interleaved float samples.
	Samples []float32

	// SampleRate in Hz (16000 for the live uplink).
	SampleRate int

	// Channels: 1 for mono capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.Channels < 1 {
		return 0
	}
	return samplesToDuration(len(f.Samples)/f.Channels, f.SampleRate)
}

// Packet is an encoded audio payload as it travels over the wire: base64
// text holding signed 16-bit little-endian PCM, tagged with its MIME type
// (for example "audio/pcm;rate=16000").
type Packet struct {
	Data     string
	MIMEType string
}

// Bytes decodes the base64 payload.
func (p Packet) Bytes() ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return b, nil
}

// Buffer is decoded, playable audio. Data holds one slice per channel, each
// with the same number of frames.
type Buffer struct {
	Data       [][]float32
	SampleRate int
}

// Channels returns the channel count.
func (b *Buffer) Channels() int { return len(b.Data) }

// Frames returns the number of sample frames per channel.
func (b *Buffer) Frames() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	return samplesToDuration(b.Frames(), b.SampleRate)
}

// Mono returns the buffer folded down to a single channel. A mono buffer is
// returned without copying.
func (b *Buffer) Mono() []float32 {
	switch len(b.Data) {
	case 0:
		return nil
	case 1:
		return b.Data[0]
	}
	out := make([]float32, b.Frames())
	scale := 1 / float32(len(b.Data))
	for _, ch := range b.Data {
		for i, s := range ch {
			out[i] += s * scale
		}
	}
	return out
}

func samplesToDuration(frames, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// SamplesAt converts a duration into a sample offset at rate, rounding to
// the nearest sample.
func SamplesAt(d time.Duration, rate int) int64 {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return (int64(d)*int64(rate) + int64(time.Second)/2) / int64(time.Second)
}

// DurationOf converts a sample count at rate into a duration.
func DurationOf(samples int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(samples * int64(time.Second) / int64(rate))
}
