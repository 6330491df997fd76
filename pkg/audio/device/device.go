// Package device implements [audio.Backend] on top of the system sound card
// through miniaudio. Both directions use signed 16-bit mono PCM; miniaudio
// converts to and from whatever the hardware runs at.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/audio/mixer"
)

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Input   = (*Microphone)(nil)
	_ audio.Output  = (*Speaker)(nil)
)

const (
	channels      = 1
	bytesPerFrame = 2 * channels
)

// Backend owns a miniaudio context shared by every device it opens.
type Backend struct {
	ctx       *malgo.AllocatedContext
	closeOnce sync.Once
}

// New initialises a miniaudio context on the platform's default backends.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("device: init context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// OpenInput claims the default capture device. Failure to initialise the
// device (typically refused microphone access) wraps
// [audio.ErrDeviceUnavailable].
func (b *Backend) OpenInput(_ context.Context, sampleRate int) (audio.Input, error) {
	m := &Microphone{rate: sampleRate}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = channels
	cfg.Alsa.NoMMap = 1
	cfg.PerformanceProfile = malgo.LowLatency

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: capture: %v", audio.ErrDeviceUnavailable, err)
	}
	m.dev = dev
	return m, nil
}

// OpenOutput opens the default playback device and starts it immediately;
// it renders silence until something is scheduled.
func (b *Backend) OpenOutput(_ context.Context, sampleRate int) (audio.Output, error) {
	s := &Speaker{Timeline: mixer.New(sampleRate)}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = channels
	cfg.Alsa.NoMMap = 1
	cfg.PeriodSizeInFrames = uint32(sampleRate / 50) // 20ms
	cfg.Periods = 3

	dev, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pOutput) < n {
				n = len(pOutput)
			}
			s.RenderPCM(pOutput[:n])
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: playback: %v", audio.ErrDeviceUnavailable, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("device: start playback: %w", err)
	}
	s.dev = dev
	return s, nil
}

// Close releases the miniaudio context. Devices opened from it must be
// closed first.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.ctx.Uninit()
		b.ctx.Free()
	})
	return err
}

// ── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a capture device delivering float samples.
type Microphone struct {
	dev  *malgo.Device
	rate int

	mu        sync.Mutex
	onSamples func([]float32)
}

// Start implements [audio.Input].
func (m *Microphone) Start(onSamples func([]float32)) error {
	m.mu.Lock()
	m.onSamples = onSamples
	m.mu.Unlock()
	if m.dev.IsStarted() {
		return nil
	}
	if err := m.dev.Start(); err != nil {
		m.mu.Lock()
		m.onSamples = nil
		m.mu.Unlock()
		return fmt.Errorf("%w: start capture: %v", audio.ErrDeviceUnavailable, err)
	}
	return nil
}

func (m *Microphone) onData(_, pInput []byte, frameCount uint32) {
	n := int(frameCount) * bytesPerFrame
	if n == 0 || len(pInput) < n {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onSamples == nil {
		return
	}
	buf, err := audio.Decode(pInput[:n], m.rate, channels)
	if err != nil {
		return
	}
	m.onSamples(buf.Data[0])
}

// Stop implements [audio.Input].
func (m *Microphone) Stop() error {
	m.mu.Lock()
	m.onSamples = nil
	m.mu.Unlock()
	if !m.dev.IsStarted() {
		return nil
	}
	if err := m.dev.Stop(); err != nil {
		return fmt.Errorf("device: stop capture: %w", err)
	}
	return nil
}

// SampleRate implements [audio.Input].
func (m *Microphone) SampleRate() int { return m.rate }

// Close implements [audio.Input].
func (m *Microphone) Close() error {
	err := m.Stop()
	m.dev.Uninit()
	return err
}

// ── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a playback device whose clock is the embedded [mixer.Timeline],
// advanced by the device callback.
type Speaker struct {
	*mixer.Timeline
	dev       *malgo.Device
	closeOnce sync.Once
}

// Close stops every voice and releases the playback device.
func (s *Speaker) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Timeline.Close()
		if s.dev.IsStarted() {
			_ = s.dev.Stop()
		}
		s.dev.Uninit()
	})
	return err
}
