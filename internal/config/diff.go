package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; everything else is
// listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LiveChanged is true if anything in the live session configuration
	// changed. The new values apply to the next session.
	LiveChanged bool
	Live        LiveDiff

	// RestartRequired names the top-level sections whose changes are ignored
	// until the server restarts.
	RestartRequired []string
}

// LiveDiff describes what changed in the live session configuration.
type LiveDiff struct {
	VoiceChanged        bool
	InstructionsChanged bool
	ModelChanged        bool

	// TuningChanged covers block_size, outbound_depth and legacy_wraparound.
	TuningChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Live session
	d.Live = LiveDiff{
		VoiceChanged:        old.Live.Voice != new.Live.Voice,
		InstructionsChanged: old.Live.Instructions != new.Live.Instructions,
		ModelChanged:        old.Providers.Live.Model != new.Providers.Live.Model,
		TuningChanged: old.Live.BlockSize != new.Live.BlockSize ||
			old.Live.OutboundDepth != new.Live.OutboundDepth ||
			old.Live.LegacyWraparound != new.Live.LegacyWraparound,
	}
	d.LiveChanged = d.Live.VoiceChanged || d.Live.InstructionsChanged ||
		d.Live.ModelChanged || d.Live.TuningChanged

	// Sections that are only read at startup.
	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	oldLive, newLive := old.Providers.Live, new.Providers.Live
	oldLive.Model, newLive.Model = "", ""
	if !reflect.DeepEqual(oldLive, newLive) || !reflect.DeepEqual(old.Providers.Assist, new.Providers.Assist) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}

	return d
}
