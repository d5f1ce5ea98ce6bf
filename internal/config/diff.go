package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; anything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StopTalkingThresholdChanged bool
	NewStopTalkingThreshold     time.Duration

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// HasChanges reports whether anything at all changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.StopTalkingThresholdChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Talking hysteresis
	if old.Voice.StopTalkingThreshold != new.Voice.StopTalkingThreshold {
		d.StopTalkingThresholdChanged = true
		d.NewStopTalkingThreshold = new.Voice.StopTalkingThreshold
	}

	// Everything else needs the pipeline rebuilt.
	oldVoice, newVoice := old.Voice, new.Voice
	oldVoice.StopTalkingThreshold, newVoice.StopTalkingThreshold = 0, 0
	if oldVoice != newVoice {
		d.RestartRequired = append(d.RestartRequired, "voice")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Archive != new.Archive {
		d.RestartRequired = append(d.RestartRequired, "archive")
	}

	return d
}

// providersEqual compares provider names and options.
func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.Capture, b.Capture) &&
		entryEqual(a.Codec, b.Codec) &&
		entryEqual(a.Sink, b.Sink)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || len(a.Options) != len(b.Options) {
		return false
	}
	return len(a.Options) == 0 || reflect.DeepEqual(a.Options, b.Options)
}
