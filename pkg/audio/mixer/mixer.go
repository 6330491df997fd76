package mixer

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/sharon/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Output = (*Timeline)(nil)

// defaultQueueCap is the initial capacity hint for the voice queue.
const defaultQueueCap = 16

// ErrClosed is returned by [Timeline.Schedule] after [Timeline.Close].
var ErrClosed = errors.New("mixer: timeline closed")

// Timeline is a mono [audio.Output] whose clock advances only as samples are
// rendered. Buffers scheduled on it are resampled to the timeline rate and
// summed into the output at their start offsets; overlapping voices are mixed
// and the result is clipped to [-1, 1].
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu      sync.Mutex
	played  int64     // samples rendered so far; the clock
	pending voiceHeap // voices not yet reached by the render cursor
	active  []*voice  // voices overlapping the render cursor
	seq     uint64    // monotonic counter for FIFO ordering
	scratch []float32
	closed  bool
}

// New creates a Timeline rendering at sampleRate Hz. The clock starts at zero.
func New(sampleRate int) *Timeline {
	t := &Timeline{
		rate:    sampleRate,
		pending: make(voiceHeap, 0, defaultQueueCap),
	}
	heap.Init(&t.pending)
	return t
}

// SampleRate reports the render rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now returns the duration of audio rendered so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return audio.DurationOf(t.played, t.rate)
}

// Schedule queues buf to start at the absolute clock time at. Start times
// already behind the render cursor are moved up to the cursor.
func (t *Timeline) Schedule(buf *audio.Buffer, at time.Duration) (audio.Voice, error) {
	if buf == nil {
		return nil, errors.New("mixer: nil buffer")
	}
	samples := audio.Resample(buf.Mono(), buf.SampleRate, t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}

	start := audio.SamplesAt(at, t.rate)
	if start < t.played {
		start = t.played
	}
	t.seq++
	v := &voice{
		tl:      t,
		start:   start,
		samples: samples,
		seq:     t.seq,
		done:    make(chan struct{}),
	}
	heap.Push(&t.pending, v)
	return v, nil
}

// Render mixes the next len(out) samples into out and advances the clock.
// Voices that finish inside the window have their Done channel closed.
func (t *Timeline) Render(out []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	clear(out)
	if t.closed {
		return
	}
	end := t.played + int64(len(out))

	for t.pending.Len() > 0 && t.pending[0].start < end {
		v := heap.Pop(&t.pending).(*voice)
		if !v.stopped {
			t.active = append(t.active, v)
		}
	}

	kept := t.active[:0]
	for _, v := range t.active {
		if v.stopped {
			continue
		}
		vend := v.start + int64(len(v.samples))
		from := max(v.start, t.played)
		to := min(vend, end)
		for i := from; i < to; i++ {
			out[i-t.played] += v.samples[i-v.start]
		}
		if vend <= end {
			v.finish()
			continue
		}
		kept = append(kept, v)
	}
	clear(t.active[len(kept):])
	t.active = kept

	for i := range out {
		out[i] = audio.Clip(out[i])
	}
	t.played = end
}

// RenderPCM renders len(out)/2 samples as signed 16-bit little-endian PCM.
// It is meant to be called from a single sound card data callback and must
// not be called concurrently with itself.
func (t *Timeline) RenderPCM(out []byte) {
	n := len(out) / 2
	if cap(t.scratch) < n {
		t.scratch = make([]float32, n)
	}
	buf := t.scratch[:n]
	t.Render(buf)
	audio.PutPCM(out, buf)
}

// Voices reports how many scheduled voices have neither finished nor been
// stopped.
func (t *Timeline) Voices() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, v := range t.pending {
		if !v.stopped {
			n++
		}
	}
	for _, v := range t.active {
		if !v.stopped {
			n++
		}
	}
	return n
}

// Close stops every voice. Further calls to Schedule fail with [ErrClosed].
// Close is idempotent.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, v := range t.pending {
		v.stopped = true
		v.finish()
	}
	for _, v := range t.active {
		v.stopped = true
		v.finish()
	}
	t.pending = nil
	t.active = nil
	return nil
}

// voice is one buffer scheduled on a [Timeline].
type voice struct {
	tl      *Timeline
	start   int64 // absolute start sample
	samples []float32
	seq     uint64

	stopped  bool // guarded by tl.mu
	doneOnce sync.Once
	done     chan struct{}
}

// Stop silences the voice. It is safe to call repeatedly.
func (v *voice) Stop() {
	v.tl.mu.Lock()
	v.stopped = true
	v.tl.mu.Unlock()
	v.finish()
}

// Done is closed when the voice finishes or is stopped.
func (v *voice) Done() <-chan struct{} { return v.done }

func (v *voice) finish() {
	v.doneOnce.Do(func() { close(v.done) })
}
