package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without a restart are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// KeywordsChanged covers the keyword lists and the match distance.
	KeywordsChanged bool

	// RestartRequired lists sections that changed but only take effect on
	// the next start.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.KeywordsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !keywordsEqual(old.Keywords, new.Keywords) || old.Listener.KeywordMaxDistance != new.Listener.KeywordMaxDistance {
		d.KeywordsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !slices.Equal(old.Server.AvatarOrigins, new.Server.AvatarOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !listenerEqualIgnoringKeywords(old.Listener, new.Listener) {
		d.RestartRequired = append(d.RestartRequired, "listener")
	}
	if old.Playback != new.Playback {
		d.RestartRequired = append(d.RestartRequired, "playback")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	return d
}

func keywordsEqual(a, b KeywordsConfig) bool {
	return slices.Equal(a.Wake, b.Wake) &&
		slices.Equal(a.Stop, b.Stop) &&
		slices.Equal(a.Exit, b.Exit) &&
		slices.Equal(a.Confirm, b.Confirm) &&
		slices.Equal(a.Cancel, b.Cancel) &&
		(a.Wake == nil) == (b.Wake == nil) &&
		(a.Stop == nil) == (b.Stop == nil) &&
		(a.Exit == nil) == (b.Exit == nil) &&
		(a.Confirm == nil) == (b.Confirm == nil) &&
		(a.Cancel == nil) == (b.Cancel == nil)
}

func listenerEqualIgnoringKeywords(a, b ListenerConfig) bool {
	a.KeywordMaxDistance, b.KeywordMaxDistance = 0, 0
	return derefEqual(a.VADMode, b.VADMode) &&
		derefEqual(a.MarginDB, b.MarginDB) &&
		a.Calibration == b.Calibration &&
		a.MaxRecord == b.MaxRecord &&
		a.Foreground == b.Foreground &&
		a.Background == b.Background
}

func derefEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
