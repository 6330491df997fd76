package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"mime"
	"strconv"
)

// Wire defaults for the live voice link.
const (
	// DefaultInputRate is the sample rate of the microphone uplink.
	DefaultInputRate = 16000

	// DefaultOutputRate is the sample rate of the model's spoken replies.
	DefaultOutputRate = 24000

	// DefaultFrameSize is the number of samples per captured frame.
	DefaultFrameSize = 4096

	pcmScale = 32768
)

// ErrMalformedAudio is returned when inbound audio bytes cannot be decoded
// into whole 16-bit samples.
var ErrMalformedAudio = errors.New("audio: malformed audio data")

// PCMMIMEType returns the MIME tag for 16-bit PCM at rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseMIMERate extracts the rate parameter from a PCM MIME type such as
// "audio/pcm;rate=24000". ok is false when the type carries no usable rate.
func ParseMIMERate(mimeType string) (rate int, ok bool) {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return 0, false
	}
	r, err := strconv.Atoi(params["rate"])
	if err != nil || r <= 0 {
		return 0, false
	}
	return r, true
}

// Encode converts normalised float samples captured at the default input
// rate into a wire packet.
func Encode(samples []float32) Packet {
	return EncodeRate(samples, DefaultInputRate)
}

// EncodeRate converts normalised float samples into a base64 PCM packet
// tagged with rate. Each sample is scaled by 32768 and clipped to the int16
// range; out-of-range input saturates instead of wrapping.
func EncodeRate(samples []float32, rate int) Packet {
	return Packet{
		Data:     base64.StdEncoding.EncodeToString(EncodePCM(samples)),
		MIMEType: PCMMIMEType(rate),
	}
}

// EncodePCM converts normalised float samples to signed 16-bit
// little-endian PCM bytes.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	PutPCM(out, samples)
	return out
}

// PutPCM writes samples into dst as signed 16-bit little-endian PCM. dst
// must hold at least 2*len(samples) bytes.
func PutPCM(dst []byte, samples []float32) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(quantize(s)))
	}
}

// quantize maps a float sample to int16, truncating toward zero.
func quantize(s float32) int16 {
	v := float64(s) * pcmScale
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// Decode converts signed 16-bit little-endian interleaved PCM into a
// playable buffer at sampleRate. The byte length must be a whole multiple of
// 2*channels.
func Decode(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 {
		return nil, fmt.Errorf("%w: invalid channel count %d", ErrMalformedAudio, channels)
	}
	if sampleRate < 1 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", ErrMalformedAudio, sampleRate)
	}
	stride := 2 * channels
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedAudio, len(data), stride)
	}

	frames := len(data) / stride
	buf := &Buffer{
		Data:       make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for c := range channels {
		buf.Data[c] = make([]float32, frames)
	}
	for i := range frames {
		for c := range channels {
			off := (i*channels + c) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Data[c][i] = float32(v) / pcmScale
		}
	}
	return buf, nil
}

// DecodePacket decodes a wire packet. The sample rate is taken from the MIME
// type when present and falls back to defaultRate otherwise.
func DecodePacket(p Packet, defaultRate, channels int) (*Buffer, error) {
	raw, err := p.Bytes()
	if err != nil {
		return nil, err
	}
	rate := defaultRate
	if r, ok := ParseMIMERate(p.MIMEType); ok {
		rate = r
	}
	return Decode(raw, rate, channels)
}
