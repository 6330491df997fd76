// Package app wires the Sharon subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the tool dispatcher,
// the notification sinks and the live controller from the config, Run serves
// the control API until the context ends, and Shutdown tears everything down
// in order.
//
// For testing, inject the provider and audio backend through [Providers] and
// replace sinks via functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sharon/internal/config"
	"github.com/MrWong99/sharon/internal/live"
	"github.com/MrWong99/sharon/internal/notify"
	"github.com/MrWong99/sharon/internal/observe"
	"github.com/MrWong99/sharon/internal/tools"
	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

// Providers holds the externally constructed dependencies. Populated by
// main.go via the config registry.
type Providers struct {
	S2S   s2s.Provider
	Audio audio.Backend
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics      *observe.Metrics
	logLevel     *slog.LevelVar
	extraNotify  []tools.Notifier
	onTranscript func(s2s.TranscriptEvent)
	metricsPath  http.Handler

	dispatcher *tools.Dispatcher
	ctrl       *live.Controller
	mux        *http.ServeMux
	listener   net.Listener

	// cfgMu guards cfg against hot reloads.
	cfgMu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics replaces observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel hands the application the level of the process logger so
// hot reloads of server.log_level take effect.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithNotifier adds a sink for spoken confirmations next to the ones the
// config declares, e.g. the console's notification channel.
func WithNotifier(n tools.Notifier) Option {
	return func(a *App) { a.extraNotify = append(a.extraNotify, n) }
}

// WithTranscriptHandler receives transcripts of both sides. fn must not
// block.
func WithTranscriptHandler(fn func(s2s.TranscriptEvent)) Option {
	return func(a *App) { a.onTranscript = fn }
}

// WithMetricsHandler replaces the promhttp handler served on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsPath = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. providers.S2S and
// providers.Audio are required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.S2S == nil {
		return nil, errors.New("app: an s2s provider is required")
	}
	if providers.Audio == nil {
		return nil, errors.New("app: an audio backend is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsPath == nil {
		a.metricsPath = promhttp.Handler()
	}

	// ── 1. Notification sinks ───────────────────────────────────────────
	notifier, err := a.buildNotifier()
	if err != nil {
		return nil, fmt.Errorf("app: init notifications: %w", err)
	}

	// ── 2. Tool dispatcher ──────────────────────────────────────────────
	a.dispatcher = tools.NewDispatcher(notifier, tools.WithMetrics(a.metrics))

	// ── 3. Live controller ──────────────────────────────────────────────
	lc := cfg.Live
	a.ctrl, err = live.New(live.Config{
		Provider:         providers.S2S,
		Backend:          providers.Audio,
		Tools:            a.dispatcher,
		Behavior:         lc.Behavior,
		Voice:            lc.Voice,
		Model:            cfg.Provider.Model,
		Instructions:     lc.Instructions,
		InputSampleRate:  lc.InputSampleRate,
		OutputSampleRate: lc.OutputSampleRate,
		FrameSize:        lc.FrameSize,
		SendQueue:        lc.SendQueue,
		Transcription:    lc.Transcription,
		Metrics:          a.metrics,
		OnTranscript:     a.onTranscript,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init live controller: %w", err)
	}
	a.closers = append(a.closers, a.ctrl.Close, providers.Audio.Close)

	// ── 4. HTTP routes ──────────────────────────────────────────────────
	a.mux = http.NewServeMux()
	a.registerRoutes()

	slog.InfoContext(ctx, "application initialised",
		"provider", cfg.Provider.Name,
		"behavior", a.ctrl.Behavior(),
		"voice", lc.Voice,
	)
	return a, nil
}

// buildNotifier assembles the configured sinks. Without any sink the
// confirmations are still logged.
func (a *App) buildNotifier() (tools.Notifier, error) {
	var sinks notify.Multi
	if len(a.cfg.Notify.Command) > 0 {
		c, err := notify.NewCommand(a.cfg.Notify.Command...)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, c)
	}
	if a.cfg.Notify.Log || (len(sinks) == 0 && len(a.extraNotify) == 0) {
		sinks = append(sinks, notify.Log{})
	}
	for _, n := range a.extraNotify {
		sinks = append(sinks, n)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Controller returns the live session controller.
func (a *App) Controller() *live.Controller { return a.ctrl }

// Handler returns the instrumented HTTP handler of the control API.
func (a *App) Handler() http.Handler {
	return observe.Middleware(a.metrics)(a.mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control API on server.listen_addr until ctx is cancelled.
// With an empty listen address Run just blocks until ctx ends.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		<-ctx.Done()
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", addr, err)
	}
	a.cfgMu.Lock()
	a.listener = ln
	a.cfgMu.Unlock()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("control API listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Addr returns the bound address of the control API once Run listens, or
// nil.
func (a *App) Addr() net.Addr {
	a.cfgMu.Lock()
	defer a.cfgMu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable part of a config change. Behavior
// and voice take effect with the next session. It is shaped to be passed to
// config.NewWatcher.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(ParseLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.BehaviorChanged {
		a.ctrl.SetBehavior(d.NewBehavior)
		slog.Info("behavior changed", "behavior", a.ctrl.Behavior())
	}
	if d.VoiceChanged {
		a.ctrl.SetVoice(d.NewVoice)
		slog.Info("voice changed", "voice", d.NewVoice)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}

	a.cfgMu.Lock()
	a.cfg = new
	a.cfgMu.Unlock()
}

// ParseLevel maps a config log level onto slog. Unknown values select info.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the live session, waits for pending confirmations and
// releases the audio backend. It respects the context deadline: if ctx
// expires first, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		done := make(chan struct{})
		go func() {
			a.dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("pending notifications abandoned")
			shutdownErr = ctx.Err()
			return
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
