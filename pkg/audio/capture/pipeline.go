// Package capture turns a raw microphone stream into fixed-size frames for
// the live uplink.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/sharon/pkg/audio"
)

// ErrAlreadyStarted is returned by [Pipeline.Start] while the pipeline runs.
var ErrAlreadyStarted = errors.New("capture: already started")

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameSize sets the number of samples per emitted frame.
// Defaults to [audio.DefaultFrameSize].
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithSampleRate overrides the rate stamped on emitted frames. Defaults to
// the input's own rate.
func WithSampleRate(rate int) Option {
	return func(p *Pipeline) {
		if rate > 0 {
			p.rate = rate
		}
	}
}

// Pipeline re-chunks samples from an [audio.Input] into frames of exactly
// frameSize samples, delivered in capture order. A trailing partial frame is
// discarded on Stop.
type Pipeline struct {
	in        audio.Input
	frameSize int
	rate      int

	mu      sync.Mutex
	started bool
	onFrame func(audio.Frame)
	pending []float32
	emitted int64 // samples emitted since Start, for timestamps
}

// New creates a pipeline reading from in.
func New(in audio.Input, opts ...Option) *Pipeline {
	p := &Pipeline{
		in:        in,
		frameSize: audio.DefaultFrameSize,
		rate:      in.SampleRate(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// FrameSize returns the configured frame size in samples.
func (p *Pipeline) FrameSize() int { return p.frameSize }

// Start begins capturing. onFrame is invoked from the input's capture
// goroutine, in order, and must not block or call Stop. No frame is
// delivered after Stop returns.
func (p *Pipeline) Start(onFrame func(audio.Frame)) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.onFrame = onFrame
	p.pending = make([]float32, 0, p.frameSize)
	p.emitted = 0
	p.mu.Unlock()

	if err := p.in.Start(p.push); err != nil {
		p.mu.Lock()
		p.started = false
		p.onFrame = nil
		p.mu.Unlock()
		return fmt.Errorf("capture: start input: %w", err)
	}
	return nil
}

func (p *Pipeline) push(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.frameSize {
		frame := audio.Frame{
			Samples:    make([]float32, p.frameSize),
			SampleRate: p.rate,
			Channels:   1,
			Timestamp:  audio.DurationOf(p.emitted, p.rate),
		}
		copy(frame.Samples, p.pending)
		p.pending = append(p.pending[:0], p.pending[p.frameSize:]...)
		p.emitted += int64(p.frameSize)
		p.onFrame(frame)
	}
}

// Stop halts capture and drops any partially filled frame. Stop on a stopped
// pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.onFrame = nil
	p.pending = nil
	p.mu.Unlock()

	if err := p.in.Stop(); err != nil {
		return fmt.Errorf("capture: stop input: %w", err)
	}
	return nil
}

// Running reports whether the pipeline is started.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
