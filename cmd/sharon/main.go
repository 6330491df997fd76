// Command sharon runs the Sharon "Live Ops" voice session: a realtime
// speech-to-speech conversation with a Gemini Live model that can control the
// device through function calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MrWong99/sharon/internal/app"
	"github.com/MrWong99/sharon/internal/config"
	"github.com/MrWong99/sharon/internal/notify"
	"github.com/MrWong99/sharon/internal/observe"
	"github.com/MrWong99/sharon/pkg/audio"
	"github.com/MrWong99/sharon/pkg/audio/device"
	"github.com/MrWong99/sharon/pkg/audio/virtual"
	"github.com/MrWong99/sharon/pkg/provider/s2s"
	"github.com/MrWong99/sharon/pkg/provider/s2s/gemini"
	"github.com/MrWong99/sharon/pkg/provider/s2s/genailive"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	useTUI := flag.Bool("tui", false, "run the interactive console")
	logPath := flag.String("log-file", "sharon.log", "log destination while the console is active")
	flag.Parse()

	// A missing .env is fine; the config may reference real env vars.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sharon: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sharon: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var logOut io.Writer = os.Stderr
	if *useTUI {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sharon: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	var level slog.LevelVar
	level.Set(app.ParseLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: &level})))

	slog.Info("sharon starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "sharon"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogLevel(&level)}
	var console *consoleFeed
	if *useTUI {
		console = newConsoleFeed()
		opts = append(opts,
			app.WithNotifier(console.notes),
			app.WithTranscriptHandler(console.transcript),
		)
	} else {
		printStartupSummary(cfg)
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	code := 0
	if *useTUI {
		if err := runConsole(ctx, application, console); err != nil {
			slog.Error("console error", "err", err)
			code = 1
		}
	} else {
		slog.Info("ready, press Ctrl+C to shut down")
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			code = 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the transports and audio backends that ship
// with Sharon into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if n := optInt(entry.Options, "send_queue"); n > 0 {
			opts = append(opts, gemini.WithSendQueue(n))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("genai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []genailive.Option
		if entry.Model != "" {
			opts = append(opts, genailive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, genailive.WithBaseURL(entry.BaseURL))
		}
		if entry.Project != "" {
			opts = append(opts, genailive.WithVertexAI(entry.Project, entry.Location))
		}
		if n := optInt(entry.Options, "send_queue"); n > 0 {
			opts = append(opts, genailive.WithSendQueue(n))
		}
		return genailive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAudio(config.AudioDevice, func(config.AudioConfig) (audio.Backend, error) {
		return device.New()
	})

	reg.RegisterAudio(config.AudioVirtual, func(config.AudioConfig) (audio.Backend, error) {
		return virtual.New(), nil
	})

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// buildProviders instantiates the transport and the audio backend named in
// cfg.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateS2S(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create s2s provider %q: %w", cfg.Provider.Name, err)
	}
	ps.S2S = p
	slog.Info("provider created", "kind", "s2s", "name", cfg.Provider.Name)

	b, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", cfg.Audio.Backend, err)
	}
	ps.Audio = b
	slog.Info("provider created", "kind", "audio", "name", cfg.Audio.Backend)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Sharon startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Provider.Name, cfg.Provider.Model)
	printRow("Audio", cfg.Audio.Backend, "")
	printRow("Behavior", cfg.Live.Behavior, "")
	printRow("Voice", cfg.Live.Voice, "")
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr, "")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(default)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optInt extracts an integer from a provider Options map. YAML decodes plain
// numbers as int; anything else yields 0.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// consoleFeed buffers the events the console renders.
type consoleFeed struct {
	notes       *notify.Channel
	transcripts chan s2s.TranscriptEvent
}

func newConsoleFeed() *consoleFeed {
	return &consoleFeed{
		notes:       notify.NewChannel(16),
		transcripts: make(chan s2s.TranscriptEvent, 64),
	}
}

// transcript never blocks the session; lines are dropped when the console
// lags.
func (f *consoleFeed) transcript(ev s2s.TranscriptEvent) {
	select {
	case f.transcripts <- ev:
	default:
	}
}
