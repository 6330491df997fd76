// Package playback schedules decoded reply fragments back-to-back on an
// [audio.Output] so that they play gapless and never overlap, and cancels
// everything still queued when the speaker is interrupted.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/sharon/pkg/audio"
)

// ErrClosed is returned by [Scheduler.Enqueue] after [Scheduler.Close].
var ErrClosed = errors.New("playback: scheduler closed")

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithOnComplete registers fn to run whenever a fragment finishes playing on
// its own. Fragments cancelled by Flush or Close do not trigger it. fn runs
// on a scheduler goroutine and must not block.
func WithOnComplete(fn func(Fragment)) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// Fragment describes one scheduled piece of playback.
type Fragment struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

type scheduled struct {
	Fragment
	voice audio.Voice
}

// Scheduler keeps a single playback cursor on an output clock.
//
// Each fragment starts at max(cursor, output.Now()) and moves the cursor to
// its end, so consecutive fragments abut without overlap. Fragments that
// finish on their own leave the pending set; [Scheduler.Flush] stops all of
// them at once and resets the cursor.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	out        audio.Output
	onComplete func(Fragment)

	mu      sync.Mutex
	cursor  time.Duration
	nextID  uint64
	pending map[uint64]*scheduled
	closed  bool
}

// New creates a Scheduler for out with its cursor at zero.
func New(out audio.Output, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:     out,
		pending: make(map[uint64]*scheduled),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enqueue schedules buf directly after everything already scheduled, or at
// the current output time if the output has caught up with the cursor.
func (s *Scheduler) Enqueue(buf *audio.Buffer) (Fragment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Fragment{}, ErrClosed
	}

	start := max(s.cursor, s.out.Now())
	dur := buf.Duration()
	voice, err := s.out.Schedule(buf, start)
	if err != nil {
		return Fragment{}, fmt.Errorf("playback: schedule fragment: %w", err)
	}

	s.nextID++
	sc := &scheduled{
		Fragment: Fragment{ID: s.nextID, Start: start, Duration: dur},
		voice:    voice,
	}
	s.cursor = start + dur
	s.pending[sc.ID] = sc

	go s.watch(sc)
	return sc.Fragment, nil
}

// watch removes sc from the pending set once its voice ends. A fragment
// already removed by Flush is left alone.
func (s *Scheduler) watch(sc *scheduled) {
	<-sc.voice.Done()

	s.mu.Lock()
	_, ok := s.pending[sc.ID]
	if ok {
		delete(s.pending, sc.ID)
	}
	fn := s.onComplete
	s.mu.Unlock()

	if ok && fn != nil {
		fn(sc.Fragment)
	}
}

// Flush stops every pending fragment, empties the pending set and resets the
// cursor to zero. The next Enqueue starts at the live output clock. Flush
// returns the number of fragments stopped.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	stopped := make([]*scheduled, 0, len(s.pending))
	for id, sc := range s.pending {
		stopped = append(stopped, sc)
		delete(s.pending, id)
	}
	s.cursor = 0
	s.mu.Unlock()

	for _, sc := range stopped {
		sc.voice.Stop()
	}
	return len(stopped)
}

// Cursor returns the time at which the next fragment would start if the
// output had not caught up with it.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Pending returns the number of fragments scheduled but not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close flushes all pending fragments and rejects further Enqueue calls.
// Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.Flush()
	return nil
}
