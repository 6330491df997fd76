package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/sharon/internal/observe"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

// ErrUnrecognizedTool is reported for calls naming a function this dispatcher
// does not implement.
var ErrUnrecognizedTool = errors.New("tools: unrecognized tool")

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const (
	// DefaultConfirmTemplate formats the spoken confirmation with action and target.
	DefaultConfirmTemplate = "Sharon confirme l'ordre : %s sur %s."
	// DefaultBareConfirmTemplate is used when the call names no target.
	DefaultBareConfirmTemplate = "Sharon confirme l'ordre : %s."

	defaultNotifyTimeout = 10 * time.Second
)

// Notifier delivers a local confirmation (speech, log line, UI toast).
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Request is one function call issued by the model.
type Request struct {
	ID   string
	Name string
	Args map[string]any
}

// Response answers exactly one Request, correlated by ID.
type Response struct {
	ID       string
	Name     string
	Response map[string]any
}

// ToolResponse converts r for the session transport.
func (r Response) ToolResponse() s2s.ToolResponse {
	return s2s.ToolResponse{ID: r.ID, Name: r.Name, Response: r.Response}
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMetrics records tool metrics on m instead of the default instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithIntentMatcher replaces the default action matcher.
func WithIntentMatcher(m *IntentMatcher) Option {
	return func(d *Dispatcher) { d.matcher = m }
}

// WithConfirmTemplates overrides the confirmation sentences. withTarget
// receives action and target; bare receives the action only.
func WithConfirmTemplates(withTarget, bare string) Option {
	return func(d *Dispatcher) {
		if withTarget != "" {
			d.confirm = withTarget
		}
		if bare != "" {
			d.confirmBare = bare
		}
	}
}

// WithNotifyTimeout bounds each asynchronous notification.
func WithNotifyTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.notifyTimeout = timeout }
}

// Dispatcher executes model function calls. Dispatch is safe for concurrent
// use; calls may complete in any order.
type Dispatcher struct {
	notifier      Notifier
	matcher       *IntentMatcher
	metrics       *observe.Metrics
	confirm       string
	confirmBare   string
	notifyTimeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher returns a Dispatcher that confirms device commands through n.
// A nil n disables confirmations.
func NewDispatcher(n Notifier, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		notifier:      n,
		confirm:       DefaultConfirmTemplate,
		confirmBare:   DefaultBareConfirmTemplate,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	if d.matcher == nil {
		d.matcher = NewIntentMatcher()
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Declarations lists the tools this dispatcher answers.
func (d *Dispatcher) Declarations() []s2s.ToolDefinition {
	return []s2s.ToolDefinition{ControlDeviceDeclaration()}
}

// Dispatch handles req and always returns a Response carrying req's ID. It
// never blocks on the notifier.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "tools.dispatch",
		trace.WithAttributes(
			attribute.String("tool.name", req.Name),
			attribute.String("tool.call_id", req.ID),
		),
	)
	defer span.End()

	resp := Response{ID: req.ID, Name: req.Name}
	status := StatusSuccess
	defer func() {
		d.metrics.RecordToolCall(ctx, req.Name, status)
		d.metrics.ToolExecutionDuration.Record(ctx, time.Since(start).Seconds())
	}()

	fail := func(err error, msg string) Response {
		status = StatusError
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		observe.Logger(ctx).Warn("tool call rejected", "tool", req.Name, "id", req.ID, "err", err)
		resp.Response = map[string]any{"status": StatusError, "error": msg}
		return resp
	}

	if req.Name != ControlDeviceName {
		d.metrics.RecordLiveError(ctx, observe.ErrorKindTool)
		return fail(fmt.Errorf("%w: %q", ErrUnrecognizedTool, req.Name), "unrecognized tool")
	}

	args, err := ParseArgs(req.Args)
	if errors.Is(err, ErrMissingAction) {
		return fail(err, "missing action")
	}
	if err != nil {
		return fail(err, "invalid arguments")
	}

	action, known := d.matcher.Match(args.Action)
	span.SetAttributes(attribute.String("tool.action", action), attribute.Bool("tool.action_known", known))

	text := d.confirmation(args)
	observe.Logger(ctx).Info("device command",
		"id", req.ID, "action", action, "raw_action", args.Action, "target", args.Target)
	d.notify(ctx, text)

	resp.Response = map[string]any{"status": StatusSuccess, "action": action}
	return resp
}

// confirmation renders the sentence announced for args, using the action as
// the model phrased it.
func (d *Dispatcher) confirmation(args ControlDeviceArgs) string {
	if args.Target == "" {
		return fmt.Sprintf(d.confirmBare, args.Action)
	}
	return fmt.Sprintf(d.confirm, args.Action, args.Target)
}

func (d *Dispatcher) notify(ctx context.Context, text string) {
	if d.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Go(func() {
		nctx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
		defer cancel()
		if err := d.notifier.Notify(nctx, text); err != nil {
			slog.Warn("tools: notification failed", "err", err)
		}
	})
}

// Wait blocks until every notification started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
