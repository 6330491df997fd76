// Package audio defines the sample types, PCM wire codec and device
// abstractions used by the live voice link.
//
// The three device abstractions are:
//
//   - [Input]: a live capture source (the microphone) that pushes float
//     samples to a callback.
//   - [Output]: a playback sink with its own monotonic clock onto which
//     decoded [Buffer] values are scheduled at absolute times.
//   - [Voice]: one scheduled buffer on an [Output], stoppable individually.
//
// A [Backend] opens inputs and outputs for one session at a time. Concrete
// backends live in sub-packages: audio/device talks to the system sound card
// and audio/virtual runs a software clock for headless operation.
//
// This package lives under pkg/ because external code is expected to provide
// its own backends.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable is returned by a [Backend] when the requested device
// cannot be opened, typically because access was refused by the host.
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// Input is a live audio source.
//
// Implementations must be safe for concurrent use.
type Input interface {
	// Start begins delivering captured mono samples to onSamples. The
	// callback runs on the implementation's capture goroutine and must not
	// block. The slice is only valid for the duration of the call.
	Start(onSamples func(samples []float32)) error

	// Stop halts capture. No callback is invoked after Stop returns.
	// Calling Stop on a stopped input is a no-op.
	Stop() error

	// SampleRate reports the rate of delivered samples in Hz.
	SampleRate() int

	// Close releases the underlying device. The input is unusable afterwards.
	Close() error
}

// Output is a playback sink with a monotonic clock.
//
// Implementations must be safe for concurrent use.
type Output interface {
	// Now returns the output clock: the playback position since the output
	// was opened. It never goes backwards.
	Now() time.Duration

	// Schedule queues buf to start playing at the absolute clock time at.
	// A start time already in the past plays immediately.
	Schedule(buf *Buffer, at time.Duration) (Voice, error)

	// SampleRate reports the rate the output renders at in Hz.
	SampleRate() int

	// Close stops every voice and releases the underlying device.
	Close() error
}

// Voice is one buffer scheduled on an [Output].
type Voice interface {
	// Stop silences the voice. Stopping a finished or stopped voice is a
	// no-op.
	Stop()

	// Done is closed when the voice finishes playing or is stopped.
	Done() <-chan struct{}
}

// Backend opens audio devices for a session.
type Backend interface {
	// OpenInput claims a capture device delivering mono samples at
	// sampleRate. A refusal wraps [ErrDeviceUnavailable].
	OpenInput(ctx context.Context, sampleRate int) (Input, error)

	// OpenOutput opens a playback device rendering at sampleRate with a
	// fresh clock starting at zero.
	OpenOutput(ctx context.Context, sampleRate int) (Output, error)

	// Close releases backend-wide resources.
	Close() error
}
