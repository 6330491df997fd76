package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"s2s":   {"gemini-live", "genai"},
	"audio": {AudioDevice, AudioVirtual},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references
// against the environment and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.Expand(string(raw), expandVar)

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandVar resolves ${VAR} and $VAR. $$ escapes a literal dollar sign.
func expandVar(name string) string {
	if name == "$" {
		return "$"
	}
	return os.Getenv(name)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider
	validateProviderName("s2s", cfg.Provider.Name)
	validateProviderName("audio", cfg.Audio.Backend)
	if cfg.Provider.Name == "" {
		slog.Warn("provider.name is empty; live sessions cannot be opened")
	} else if cfg.Provider.APIKey == "" && (cfg.Provider.Project == "" || cfg.Provider.Location == "") {
		slog.Warn("provider.api_key is empty; the provider will likely reject the connection", "provider", cfg.Provider.Name)
	}
	if (cfg.Provider.Project == "") != (cfg.Provider.Location == "") {
		errs = append(errs, errors.New("provider.project and provider.location must be set together"))
	}

	// Live
	l := cfg.Live
	if l.Instructions != "" && strings.Count(l.Instructions, "%s") != 1 {
		errs = append(errs, errors.New("live.instructions must contain exactly one %s"))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"live.input_sample_rate", l.InputSampleRate},
		{"live.output_sample_rate", l.OutputSampleRate},
		{"live.frame_size", l.FrameSize},
		{"live.send_queue", l.SendQueue},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", f.name, f.v))
		}
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"live.input_sample_rate", l.InputSampleRate},
		{"live.output_sample_rate", l.OutputSampleRate},
	} {
		if f.v > 0 && (f.v < 8000 || f.v > 48000) {
			errs = append(errs, fmt.Errorf("%s %d is out of range [8000, 48000]", f.name, f.v))
		}
	}

	// Notify
	if len(cfg.Notify.Command) > 0 && strings.TrimSpace(cfg.Notify.Command[0]) == "" {
		errs = append(errs, errors.New("notify.command[0] must name a program"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
