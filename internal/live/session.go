package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sharon/internal/observe"
	"github.com/MrWong99/sharon/internal/tools"
	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/audio/capture"
	"github.com/MrWong99/sharon/pkg/audio/playback"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

// outcome is how a session ended.
type outcome struct {
	state State
	text  string
	err   error
}

// session holds everything scoped to one live connection. Nothing here
// outlives teardown.
type session struct {
	c       *Controller
	id      string
	started time.Time
	log     *slog.Logger
	span    trace.Span

	in      audio.Input
	out     audio.Output
	capture *capture.Pipeline
	sched   *playback.Scheduler
	handle  s2s.SessionHandle

	frames chan audio.Frame
	active atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
	gctx   context.Context

	mu    sync.Mutex
	ended bool

	teardownOnce  sync.Once
	teardownErr   error
	malformedOnce sync.Once
	done          chan struct{}
}

func newSession(c *Controller, id string, ctx context.Context, span trace.Span, log *slog.Logger,
	in audio.Input, out audio.Output, handle s2s.SessionHandle) *session {
	sctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sctx)
	return &session{
		c:       c,
		id:      id,
		started: time.Now(),
		log:     log,
		span:    span,
		in:      in,
		out:     out,
		capture: capture.New(in, capture.WithFrameSize(c.cfg.FrameSize)),
		sched:   playback.New(out),
		handle:  handle,
		frames:  make(chan audio.Frame, c.cfg.SendQueue),
		ctx:     sctx,
		cancel:  cancel,
		g:       g,
		gctx:    gctx,
		done:    make(chan struct{}),
	}
}

// run starts the sender and dispatch goroutines and binds capture. The
// returned error is a capture failure; the caller tears the session down.
func (s *session) run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	go s.wait()
	if s.ended {
		return nil
	}

	s.active.Store(true)
	s.g.Go(s.sendLoop)
	s.g.Go(s.dispatchLoop)
	return s.capture.Start(s.onFrame)
}

// wait clears the controller's reference once every session goroutine has
// exited, then signals done.
func (s *session) wait() {
	_ = s.g.Wait()
	s.teardown(outcome{state: StateClosed, text: StatusEnded})

	s.c.mu.Lock()
	if s.c.sess == s {
		s.c.sess = nil
	}
	s.c.mu.Unlock()
	close(s.done)
}

// onFrame runs on the capture goroutine and must not block.
func (s *session) onFrame(f audio.Frame) {
	if !s.active.Load() {
		s.c.metrics.FramesDropped.Add(s.ctx, 1)
		return
	}
	select {
	case s.frames <- f:
	default:
		s.c.metrics.FramesDropped.Add(s.ctx, 1)
	}
}

// sendLoop is the single writer of outbound audio, preserving capture order.
func (s *session) sendLoop() error {
	rate := s.c.cfg.InputSampleRate
	for {
		select {
		case <-s.gctx.Done():
			return nil
		case f := <-s.frames:
			if !s.active.Load() {
				continue
			}
			samples := f.Samples
			if f.SampleRate != rate {
				samples = audio.Resample(samples, f.SampleRate, rate)
			}
			err := s.handle.SendAudio(audio.EncodeRate(samples, rate))
			switch {
			case err == nil:
				s.c.metrics.FramesSent.Add(s.ctx, 1)
			case errors.Is(err, s2s.ErrSessionClosed):
				return nil
			case errors.Is(err, s2s.ErrBackpressure):
				s.c.metrics.FramesDropped.Add(s.ctx, 1)
			default:
				s.c.metrics.RecordLiveError(s.ctx, observe.ErrorKindSend)
				s.log.Warn("live: send audio failed", "err", err)
			}
		}
	}
}

// dispatchLoop consumes inbound events in order. Audio is decoded and
// enqueued here so fragments keep their arrival order.
func (s *session) dispatchLoop() error {
	events := s.handle.Events()
	for {
		select {
		case <-s.gctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				s.teardown(outcome{state: StateClosed, text: StatusEnded})
				return nil
			}
			if s.handle1(ev) {
				return nil
			}
		}
	}
}

// handle1 processes one event and reports whether it ended the session.
func (s *session) handle1(ev s2s.Event) bool {
	m := s.c.metrics
	switch e := ev.(type) {
	case s2s.AudioEvent:
		s.play(e)

	case s2s.ToolCallEvent:
		for _, call := range e.Calls {
			s.g.Go(func() error {
				s.answer(call)
				return nil
			})
		}

	case s2s.InterruptedEvent:
		n := s.sched.Flush()
		m.Interruptions.Add(s.ctx, 1)
		s.log.Debug("live: barge-in, playback flushed", "fragments", n)

	case s2s.TranscriptEvent:
		s.log.Debug("live: transcript", "role", e.Role, "text", e.Text)
		if fn := s.c.cfg.OnTranscript; fn != nil {
			fn(e)
		}

	case s2s.TurnCompleteEvent:
		s.log.Debug("live: turn complete", "pending", s.sched.Pending())

	case s2s.GoAwayEvent:
		s.log.Info("live: service will close the session soon", "time_left", e.TimeLeft)

	case s2s.ClosedEvent:
		s.log.Info("live: session closed by remote", "reason", e.Reason)
		s.teardown(outcome{state: StateClosed, text: StatusEnded})
		return true

	case s2s.ErrorEvent:
		m.RecordLiveError(s.ctx, observe.ErrorKindTransport)
		s.teardown(outcome{
			state: StateErrored,
			text:  StatusLinkLost,
			err:   fmt.Errorf("%w: %w", ErrTransport, e.Err),
		})
		return true
	}
	return false
}

func (s *session) play(e s2s.AudioEvent) {
	m := s.c.metrics
	rate, ok := audio.ParseMIMERate(e.MIMEType)
	if !ok {
		rate = s.c.cfg.OutputSampleRate
	}
	buf, err := audio.Decode(e.Data, rate, 1)
	if err != nil {
		m.FragmentsMalformed.Add(s.ctx, 1)
		m.RecordLiveError(s.ctx, observe.ErrorKindMalformed)
		logged := false
		s.malformedOnce.Do(func() {
			logged = true
			s.log.Warn("live: dropping malformed audio fragment", "bytes", len(e.Data), "err", err)
		})
		if !logged {
			s.log.Debug("live: dropping malformed audio fragment", "bytes", len(e.Data))
		}
		return
	}
	if buf.Frames() == 0 {
		return
	}
	if _, err := s.sched.Enqueue(buf); err != nil {
		if !errors.Is(err, playback.ErrClosed) {
			m.RecordLiveError(s.ctx, observe.ErrorKindPlayback)
			s.log.Warn("live: schedule fragment", "err", err)
		}
		return
	}
	m.FragmentsPlayed.Add(s.ctx, 1)
}

// answer dispatches one call and sends its correlated response. Calls run
// concurrently and may complete in any order.
func (s *session) answer(call s2s.ToolCall) {
	resp := s.c.cfg.Tools.Dispatch(s.ctx, tools.Request{ID: call.ID, Name: call.Name, Args: call.Args})
	if err := s.handle.SendToolResponse(resp.ToolResponse()); err != nil && !errors.Is(err, s2s.ErrSessionClosed) {
		s.c.metrics.RecordLiveError(s.ctx, observe.ErrorKindSend)
		s.log.Warn("live: send tool response", "id", call.ID, "err", err)
	}
}

// teardown leaves Active exactly once: stop capture, close the transport,
// flush playback and release the devices. Every step runs even when an
// earlier one fails. Later calls return the first call's result.
func (s *session) teardown(o outcome) error {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		s.active.Store(false)

		s.c.mu.Lock()
		s.c.setLocked(Status{State: StateClosing, Text: o.text, SessionID: s.id, Err: o.err})
		s.c.mu.Unlock()

		s.teardownErr = s.release()
		if s.teardownErr != nil {
			s.log.Warn("live: teardown", "err", s.teardownErr)
		}

		s.c.metrics.ActiveSessions.Add(s.ctx, -1)
		s.c.metrics.SessionDuration.Record(s.ctx, time.Since(s.started).Seconds())
		if o.err != nil {
			s.span.RecordError(o.err)
			s.span.SetStatus(codes.Error, o.text)
			s.log.Error("live: session ended", "state", o.state, "err", o.err)
		} else {
			s.log.Info("live: session ended", "state", o.state, "status", o.text)
		}
		s.span.End()

		s.c.mu.Lock()
		s.c.setLocked(Status{State: o.state, Text: o.text, SessionID: s.id, Err: o.err})
		s.c.mu.Unlock()
	})
	return s.teardownErr
}

// release frees every session resource and joins the errors.
func (s *session) release() error {
	var errs []error
	if err := s.capture.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("live: close transport: %w", err))
	}
	s.sched.Flush()
	if err := s.sched.Close(); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	if err := s.in.Close(); err != nil {
		errs = append(errs, fmt.Errorf("live: close input: %w", err))
	}
	if err := s.out.Close(); err != nil {
		errs = append(errs, fmt.Errorf("live: close output: %w", err))
	}
	return errors.Join(errs...)
}
