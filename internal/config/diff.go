package config

// ConfigDiff describes what changed between two configs. Only sections
// that can be meaningfully hot-reloaded are tracked; server address and
// TLS changes always require a restart.
type ConfigDiff struct {
	LogLevelChanged   bool
	NewLogLevel       LogLevel
	ClassifierChanged bool
	SessionChanged    bool
	RecognizerChanged bool
	TokenChanged      bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ClassifierChanged || d.SessionChanged ||
		d.RecognizerChanged || d.TokenChanged
}

// Diff compares old and new configs section by section. The classifier
// and session sections apply to new sessions only; the recognizer
// section requires a model reload and is surfaced so the operator can
// be warned.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Classifier != new.Classifier {
		d.ClassifierChanged = true
	}
	if old.Session != new.Session {
		d.SessionChanged = true
	}
	if old.Recognizer != new.Recognizer {
		d.RecognizerChanged = true
	}
	if old.Token != new.Token {
		d.TokenChanged = true
	}
	return d
}
