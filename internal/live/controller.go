// Package live runs the realtime voice session: it claims the microphone and
// speaker, opens a speech-to-speech session, streams capture frames up,
// schedules synthesized fragments for gap-free playback, honours barge-in and
// answers device tool calls. Exactly one session exists at a time.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sharon/internal/observe"
	"github.com/MrWong99/sharon/internal/tools"
	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

const (
	// DefaultBehavior is the personality used until SetBehavior is called.
	DefaultBehavior = "Joyeuse"

	// DefaultVoice is the prebuilt voice requested from the model.
	DefaultVoice = "Kore"

	// DefaultInstructions is the system instruction template. The single %s
	// receives the upper-cased behavior.
	DefaultInstructions = "Tu es Sharon en mode Spécial Ops. Comporte-toi de manière : %s. " +
		"Tu contrôles l'appareil par la voix. Si l'utilisateur demande d'appeler ou d'ouvrir WhatsApp, " +
		"utilise controlDevice. Sois directe et efficace."

	// DefaultSendQueue bounds the frames waiting for the sender goroutine.
	DefaultSendQueue = 32

	subscriberBuffer = 16
)

// Dispatcher executes the tool calls issued by the model.
// *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req tools.Request) tools.Response
	Declarations() []s2s.ToolDefinition
}

// Config holds the dependencies and tunables of a [Controller].
type Config struct {
	// Provider opens remote sessions. Required.
	Provider s2s.Provider

	// Backend hands out the microphone and speaker. Required.
	Backend audio.Backend

	// Tools answers function calls. Defaults to a dispatcher without
	// notifications.
	Tools Dispatcher

	Behavior     string
	Voice        string
	Model        string
	Instructions string

	InputSampleRate  int
	OutputSampleRate int
	FrameSize        int
	SendQueue        int

	// Transcription requests input and output transcripts.
	Transcription bool

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// OnTranscript, if set, receives every transcript from the dispatch loop.
	// It must not block.
	OnTranscript func(s2s.TranscriptEvent)
}

// Controller owns the live session lifecycle. All methods are safe for
// concurrent use.
type Controller struct {
	cfg     Config
	metrics *observe.Metrics

	mu       sync.Mutex
	status   Status
	behavior string
	voice    string
	sess     *session
	open     *pendingOpen
	subs     map[chan Status]struct{}
}

// pendingOpen tracks a Start that has not reached Active yet.
type pendingOpen struct {
	cancel  context.CancelFunc
	aborted bool
	done    chan struct{}
}

// New validates cfg, fills defaults and returns an idle Controller.
func New(cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Provider == nil {
		errs = append(errs, errors.New("provider is required"))
	}
	if cfg.Backend == nil {
		errs = append(errs, errors.New("audio backend is required"))
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	if strings.Count(cfg.Instructions, "%s") != 1 {
		errs = append(errs, errors.New("instructions must contain exactly one %s"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("live: %w", err)
	}

	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewDispatcher(nil, tools.WithMetrics(cfg.Metrics))
	}
	if cfg.Behavior == "" {
		cfg.Behavior = DefaultBehavior
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = audio.DefaultInputRate
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = audio.DefaultOutputRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = audio.DefaultFrameSize
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}

	return &Controller{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		status:   Status{State: StateIdle, Text: StatusReady},
		behavior: cfg.Behavior,
		voice:    cfg.Voice,
		subs:     make(map[chan Status]struct{}),
	}, nil
}

// Start opens a new session. It blocks until the remote side acknowledged
// the setup (or failed), then returns while the session runs in the
// background. Start fails with ErrSessionActive while another session is
// opening or active, and waits for a finished session's teardown before
// claiming the devices again.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.awaitPrevious(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	if c.status.State.Busy() || c.open != nil || c.sess != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	openCtx, cancel := context.WithCancel(ctx)
	op := &pendingOpen{cancel: cancel, done: make(chan struct{})}
	c.open = op
	id := uuid.NewString()
	behavior, voice := c.behavior, c.voice
	c.setLocked(Status{State: StateOpening, Text: StatusOpening, SessionID: id})
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.open == op {
			c.open = nil
		}
		c.mu.Unlock()
		close(op.done)
	}()

	spanCtx, span := observe.StartSpan(observe.WithSessionID(context.WithoutCancel(ctx), id), "live.session",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("live.behavior", behavior),
			attribute.String("live.voice", voice),
		),
	)
	log := observe.Logger(spanCtx)
	begin := time.Now()

	fail := func(err error, text, kind string) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, text)
		span.End()
		c.metrics.RecordLiveError(spanCtx, kind)
		log.Error("live: session failed to open", "err", err)
		c.mu.Lock()
		c.setLocked(Status{State: StateErrored, Text: text, SessionID: id, Err: err})
		c.mu.Unlock()
		return err
	}
	abort := func(err error) error {
		span.SetStatus(codes.Unset, "aborted")
		span.End()
		log.Info("live: session start aborted")
		c.mu.Lock()
		c.setLocked(Status{State: StateClosed, Text: StatusReady, SessionID: id})
		c.mu.Unlock()
		return fmt.Errorf("live: start aborted: %w", err)
	}

	in, err := c.cfg.Backend.OpenInput(openCtx, c.cfg.InputSampleRate)
	if err != nil {
		if c.aborted(op) || ctx.Err() != nil {
			return abort(context.Canceled)
		}
		return fail(fmt.Errorf("%w: %w", ErrPermissionDenied, err), StatusMicDenied, observe.ErrorKindPermission)
	}
	out, err := c.cfg.Backend.OpenOutput(openCtx, c.cfg.OutputSampleRate)
	if err != nil {
		_ = in.Close()
		if c.aborted(op) || ctx.Err() != nil {
			return abort(context.Canceled)
		}
		return fail(fmt.Errorf("live: open output: %w", err), StatusLinkLost, observe.ErrorKindPlayback)
	}

	handle, err := c.cfg.Provider.Connect(openCtx, s2s.SessionConfig{
		Model:           c.cfg.Model,
		Voice:           voice,
		Instructions:    c.instructions(behavior),
		Tools:           c.cfg.Tools.Declarations(),
		InputSampleRate: c.cfg.InputSampleRate,
		Transcription:   c.cfg.Transcription,
	})
	if err != nil {
		_ = out.Close()
		_ = in.Close()
		if c.aborted(op) || ctx.Err() != nil {
			return abort(err)
		}
		return fail(fmt.Errorf("%w: connect: %w", ErrTransport, err), StatusLinkLost, observe.ErrorKindTransport)
	}
	c.metrics.ConnectDuration.Record(spanCtx, time.Since(begin).Seconds())

	s := newSession(c, id, spanCtx, span, log, in, out, handle)

	c.mu.Lock()
	if op.aborted {
		c.mu.Unlock()
		s.release()
		return abort(context.Canceled)
	}
	c.sess = s
	c.open = nil
	c.setLocked(Status{State: StateActive, Text: StatusActive, SessionID: id})
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(spanCtx, 1)
	log.Info("live: session active", "behavior", behavior, "voice", voice)

	if err := s.run(); err != nil {
		err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		c.metrics.RecordLiveError(spanCtx, observe.ErrorKindPermission)
		s.teardown(outcome{state: StateErrored, text: StatusMicDenied, err: err})
		return err
	}
	return nil
}

// awaitPrevious blocks until the goroutines of a finished session exited.
func (c *Controller) awaitPrevious(ctx context.Context) error {
	c.mu.Lock()
	s := c.sess
	busy := c.status.State.Busy()
	c.mu.Unlock()
	if s == nil || busy {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) aborted(op *pendingOpen) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return op.aborted
}

// Stop ends the current session. Stopping an opening session aborts the
// connect. Stop waits for the session goroutines to exit and returns the
// joined teardown errors. It is a no-op when nothing runs.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if op := c.open; op != nil {
		op.aborted = true
		c.mu.Unlock()
		op.cancel()
		<-op.done
		return nil
	}
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return nil
	}

	err := s.teardown(outcome{state: StateClosed, text: StatusReady})
	<-s.done
	return err
}

// PlaybackPending reports how many reply fragments of the current session
// are scheduled but not finished. It is 0 when no session runs.
func (c *Controller) PlaybackPending() int {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		return 0
	}
	return s.sched.Pending()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.State
}

// Status returns the current status snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the error that moved the controller to Errored, or nil.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status.Err
}

// SetBehavior changes the personality used by the next session.
func (c *Controller) SetBehavior(behavior string) {
	behavior = strings.TrimSpace(behavior)
	if behavior == "" {
		behavior = DefaultBehavior
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.behavior = behavior
}

// Behavior returns the personality the next session will use.
func (c *Controller) Behavior() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.behavior
}

// SetVoice changes the voice used by the next session.
func (c *Controller) SetVoice(voice string) {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		voice = DefaultVoice
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.voice = voice
}

// Instructions renders the system instruction for the current behavior.
func (c *Controller) Instructions() string {
	return c.instructions(c.Behavior())
}

func (c *Controller) instructions(behavior string) string {
	return fmt.Sprintf(c.cfg.Instructions, strings.ToUpper(behavior))
}

// Subscribe returns a channel receiving every status change and a function
// that unsubscribes. The current status is delivered first. A slow reader
// loses the oldest pending updates, never the latest.
func (c *Controller) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, subscriberBuffer)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.status
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

// setLocked records st and fans it out. c.mu must be held.
func (c *Controller) setLocked(st Status) {
	c.status = st
	for ch := range c.subs {
		select {
		case ch <- st:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- st
		}
	}
}

// Close stops any session. The controller stays usable.
func (c *Controller) Close() error {
	return c.Stop()
}
