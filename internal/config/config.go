// Package config provides the configuration schema, loader, and provider registry
// for the Sharon live voice console.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Audio backend names understood by cmd/sharon.
const (
	AudioDevice  = "device"
	AudioVirtual = "virtual"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Provider ProviderEntry `yaml:"provider"`
	Live     LiveConfig    `yaml:"live"`
	Audio    AudioConfig   `yaml:"audio"`
	Notify   NotifyConfig  `yaml:"notify"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API (e.g., ":8080").
	// Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProviderEntry selects and configures the speech-to-speech provider. The
// Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation ("gemini-live", "genai").
	Name string `yaml:"name"`

	// APIKey authenticates against the provider. Supports ${ENV} expansion.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Project and Location route the genai provider through Vertex AI
	// instead of the Gemini API when both are set.
	Project  string `yaml:"project"`
	Location string `yaml:"location"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// LiveConfig tunes the live session. Zero values select the defaults of
// package live.
type LiveConfig struct {
	// Behavior is the personality injected into the system instruction.
	Behavior string `yaml:"behavior"`

	// Voice is the prebuilt voice of the model.
	Voice string `yaml:"voice"`

	// Instructions overrides the system instruction template. It must
	// contain exactly one %s, replaced by the upper-cased behavior.
	Instructions string `yaml:"instructions"`

	InputSampleRate  int `yaml:"input_sample_rate"`
	OutputSampleRate int `yaml:"output_sample_rate"`
	FrameSize        int `yaml:"frame_size"`
	SendQueue        int `yaml:"send_queue"`

	// Transcription requests transcripts of both sides.
	Transcription bool `yaml:"transcription"`
}

// AudioConfig selects the audio backend.
type AudioConfig struct {
	// Backend is "device" (system sound card, the default) or "virtual"
	// (headless, no capture).
	Backend string `yaml:"backend"`
}

// NotifyConfig configures where spoken confirmations go.
type NotifyConfig struct {
	// Command is an external program run with the confirmation text as its
	// last argument, e.g. ["espeak-ng", "-v", "fr"].
	Command []string `yaml:"command"`

	// Log also writes every confirmation to the log.
	Log bool `yaml:"log"`
}
