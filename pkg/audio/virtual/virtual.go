// Package virtual implements a headless [audio.Backend]: a microphone that
// captures silence and a speaker that renders into the void, both at real
// time. It lets the live link run on machines without a sound card, with
// playback timing that still matches what a real device would do.
package virtual

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/audio/mixer"
)

var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Input   = (*Input)(nil)
	_ audio.Output  = (*Output)(nil)
)

// DefaultTick is how often the virtual devices advance their clocks.
const DefaultTick = 20 * time.Millisecond

// Backend hands out silent real-time inputs and software outputs.
type Backend struct {
	tick time.Duration
}

// Option configures a [Backend].
type Option func(*Backend)

// WithTick sets the capture and render period of opened devices.
func WithTick(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.tick = d
		}
	}
}

// New creates a virtual backend.
func New(opts ...Option) *Backend {
	b := &Backend{tick: DefaultTick}
	for _, o := range opts {
		o(b)
	}
	return b
}

// OpenInput returns an input that delivers silence at sampleRate.
func (b *Backend) OpenInput(_ context.Context, sampleRate int) (audio.Input, error) {
	return &Input{rate: sampleRate, tick: b.tick}, nil
}

// OpenOutput returns a software output whose clock follows the wall clock.
func (b *Backend) OpenOutput(_ context.Context, sampleRate int) (audio.Output, error) {
	o := &Output{
		Timeline: mixer.New(sampleRate),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go o.run(b.tick)
	return o, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// Input is an [audio.Input] that captures zero-valued samples, as many per
// tick as the wall clock says the rate has produced.
type Input struct {
	rate int
	tick time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Start implements [audio.Input]. Starting a started input is a no-op.
func (i *Input) Start(onSamples func([]float32)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stop != nil {
		return nil
	}
	i.stop = make(chan struct{})
	i.done = make(chan struct{})
	go i.run(onSamples, i.stop, i.done)
	return nil
}

func (i *Input) run(onSamples func([]float32), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	t := time.NewTicker(i.tick)
	defer t.Stop()

	last := time.Now()
	var owed float64
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			owed += now.Sub(last).Seconds() * float64(i.rate)
			last = now
			n := int(owed)
			if n == 0 {
				continue
			}
			owed -= float64(n)
			// The callback may keep the slice.
			onSamples(make([]float32, n))
		}
	}
}

// Stop implements [audio.Input]. No callback runs after Stop returns.
func (i *Input) Stop() error {
	i.mu.Lock()
	stop, done := i.stop, i.done
	i.stop, i.done = nil, nil
	i.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

// SampleRate implements [audio.Input].
func (i *Input) SampleRate() int { return i.rate }

// Close implements [audio.Input].
func (i *Input) Close() error { return i.Stop() }

// Output renders its timeline in real time and discards the result.
type Output struct {
	*mixer.Timeline

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (o *Output) run(tick time.Duration) {
	defer close(o.done)

	t := time.NewTicker(tick)
	defer t.Stop()

	rate := o.SampleRate()
	last := time.Now()
	var owed float64
	buf := make([]float32, 0, audio.SamplesAt(tick, rate)*2)
	for {
		select {
		case <-o.stop:
			return
		case now := <-t.C:
			owed += now.Sub(last).Seconds() * float64(rate)
			last = now
			n := int(owed)
			if n == 0 {
				continue
			}
			owed -= float64(n)
			if cap(buf) < n {
				buf = make([]float32, n)
			}
			o.Render(buf[:n])
		}
	}
}

// Close stops the render loop and every voice.
func (o *Output) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.stop)
		<-o.done
		err = o.Timeline.Close()
	})
	return err
}
