// Package mock provides in-memory mock implementations of [audio.Input],
// [audio.Output] and [audio.Backend] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	in := &mock.Input{Rate: 16000}
//	out := &mock.Output{Rate: 24000}
//	backend := &mock.Backend{InputResult: in, OutputResult: out}
//	// ... start a session, then feed the microphone:
//	in.Push(make([]float32, 4096))
//	// ... and move playback forward:
//	out.Advance(500 * time.Millisecond)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/sharon/pkg/audio"
)

// ─── Input ───────────────────────────────────────────────────────────────────

// Input is a mock [audio.Input]. Samples are delivered only when the test
// calls [Input.Push].
type Input struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// StartError is returned by Start.
	StartError error

	// StopError is returned by Stop.
	StopError error

	onSamples func([]float32)
	started   bool

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Input = (*Input)(nil)

// Start implements [audio.Input].
func (i *Input) Start(onSamples func([]float32)) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountStart++
	if i.StartError != nil {
		return i.StartError
	}
	i.onSamples = onSamples
	i.started = true
	return nil
}

// Stop implements [audio.Input].
func (i *Input) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountStop++
	i.onSamples = nil
	i.started = false
	return i.StopError
}

// SampleRate implements [audio.Input].
func (i *Input) SampleRate() int {
	if i.Rate == 0 {
		return audio.DefaultInputRate
	}
	return i.Rate
}

// Close implements [audio.Input].
func (i *Input) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.CallCountClose++
	i.onSamples = nil
	i.started = false
	return nil
}

// Push delivers samples to the registered callback as if they had been
// captured. It reports false when the input is not started.
func (i *Input) Push(samples []float32) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.started || i.onSamples == nil {
		return false
	}
	i.onSamples(samples)
	return true
}

// Started reports whether Start succeeded and Stop has not been called since.
func (i *Input) Started() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.started
}

// ─── Output ──────────────────────────────────────────────────────────────────

// Output is a mock [audio.Output] with a manually advanced clock. Voices
// finish when [Output.Advance] moves the clock past their end.
type Output struct {
	mu sync.Mutex

	// Rate is returned by SampleRate.
	Rate int

	// ScheduleError is returned by Schedule.
	ScheduleError error

	now    time.Duration
	voices []*Voice
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Output = (*Output)(nil)

// Now implements [audio.Output].
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Schedule implements [audio.Output]. Every scheduled voice is recorded.
func (o *Output) Schedule(buf *audio.Buffer, at time.Duration) (audio.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.ScheduleError != nil {
		return nil, o.ScheduleError
	}
	v := &Voice{
		Start:    at,
		Duration: buf.Duration(),
		Buffer:   buf,
		done:     make(chan struct{}),
	}
	o.voices = append(o.voices, v)
	return v, nil
}

// SampleRate implements [audio.Output].
func (o *Output) SampleRate() int {
	if o.Rate == 0 {
		return audio.DefaultOutputRate
	}
	return o.Rate
}

// Close implements [audio.Output]. It stops all recorded voices.
func (o *Output) Close() error {
	o.mu.Lock()
	o.CallCountClose++
	o.closed = true
	voices := append([]*Voice(nil), o.voices...)
	o.mu.Unlock()
	for _, v := range voices {
		v.Stop()
	}
	return nil
}

// SetNow moves the clock to d without completing any voices.
func (o *Output) SetNow(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = d
}

// Advance moves the clock forward by d and completes every voice whose end
// is at or before the new clock.
func (o *Output) Advance(d time.Duration) {
	o.mu.Lock()
	o.now += d
	now := o.now
	voices := append([]*Voice(nil), o.voices...)
	o.mu.Unlock()
	for _, v := range voices {
		if v.Start+v.Duration <= now {
			v.complete()
		}
	}
}

// Voices returns a snapshot of every voice scheduled so far.
func (o *Output) Voices() []*Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Voice(nil), o.voices...)
}

// Closed reports whether Close was called.
func (o *Output) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Voice is a mock [audio.Voice] recorded by [Output].
type Voice struct {
	Start    time.Duration
	Duration time.Duration
	Buffer   *audio.Buffer

	mu        sync.Mutex
	stopCalls int
	finished  bool
	done      chan struct{}
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	v.stopCalls++
	v.mu.Unlock()
	v.complete()
}

// Done implements [audio.Voice].
func (v *Voice) Done() <-chan struct{} { return v.done }

// StopCalls returns how many times Stop was called.
func (v *Voice) StopCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopCalls
}

func (v *Voice) complete() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.finished {
		v.finished = true
		close(v.done)
	}
}

// ─── Backend ─────────────────────────────────────────────────────────────────

// Backend is a mock [audio.Backend] handing out preconfigured devices.
type Backend struct {
	mu sync.Mutex

	// InputResult is returned by OpenInput.
	InputResult audio.Input

	// InputError is returned by OpenInput.
	InputError error

	// OutputResult is returned by OpenOutput.
	OutputResult audio.Output

	// OutputError is returned by OpenOutput.
	OutputError error

	// CallCountOpenInput records how many times OpenInput was called.
	CallCountOpenInput int

	// CallCountOpenOutput records how many times OpenOutput was called.
	CallCountOpenOutput int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Backend = (*Backend)(nil)

// OpenInput implements [audio.Backend].
func (b *Backend) OpenInput(_ context.Context, _ int) (audio.Input, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountOpenInput++
	if b.InputError != nil {
		return nil, b.InputError
	}
	return b.InputResult, nil
}

// OpenOutput implements [audio.Backend].
func (b *Backend) OpenOutput(_ context.Context, _ int) (audio.Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountOpenOutput++
	if b.OutputError != nil {
		return nil, b.OutputError
	}
	return b.OutputResult, nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CallCountClose++
	return nil
}

// Counts returns the OpenInput and OpenOutput call counts.
func (b *Backend) Counts() (openInput, openOutput int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.CallCountOpenInput, b.CallCountOpenOutput
}
