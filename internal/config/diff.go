package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they take effect
// with the next live session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BehaviorChanged bool
	NewBehavior     string

	VoiceChanged bool
	NewVoice     string

	// RestartRequired lists settings that changed but are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.BehaviorChanged || d.VoiceChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Live.Behavior != new.Live.Behavior {
		d.BehaviorChanged = true
		d.NewBehavior = new.Live.Behavior
	}
	if old.Live.Voice != new.Live.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Live.Voice
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providerEqual(old.Provider, new.Provider) {
		d.RestartRequired = append(d.RestartRequired, "provider")
	}
	oldLive, newLive := old.Live, new.Live
	oldLive.Behavior, oldLive.Voice = "", ""
	newLive.Behavior, newLive.Voice = "", ""
	if oldLive != newLive {
		d.RestartRequired = append(d.RestartRequired, "live")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Notify.Log != new.Notify.Log || !slices.Equal(old.Notify.Command, new.Notify.Command) {
		d.RestartRequired = append(d.RestartRequired, "notify")
	}

	return d
}

// providerEqual compares entries ignoring Options, which hold arbitrary
// values.
func providerEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && a.Project == b.Project && a.Location == b.Location
}
