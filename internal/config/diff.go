package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InterviewChanged is set when any interview setting changed. New
	// sessions use the new values; running sessions keep theirs.
	InterviewChanged bool

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.InterviewChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.InterviewChanged = !interviewEqual(old.Interview, new.Interview)

	if !serverEqual(old.Server, new.Server) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Resilience != new.Resilience {
		d.RestartRequired = append(d.RestartRequired, "resilience")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}
	return d
}

func interviewEqual(a, b InterviewConfig) bool {
	if !slices.Equal(a.ExtraDestinations, b.ExtraDestinations) {
		return false
	}
	a.ExtraDestinations, b.ExtraDestinations = nil, nil
	return reflect.DeepEqual(a, b)
}

// serverEqual ignores the log level, which is reloadable.
func serverEqual(a, b ServerConfig) bool {
	if a.ListenAddr != b.ListenAddr || a.ShutdownTimeout != b.ShutdownTimeout {
		return false
	}
	if !slices.Equal(a.AllowedOrigins, b.AllowedOrigins) {
		return false
	}
	if (a.TLS == nil) != (b.TLS == nil) {
		return false
	}
	return a.TLS == nil || *a.TLS == *b.TLS
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.LLM, b.LLM) || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

// entryEqual compares the fields that select a backend. Options are opaque
// and compared by key set only.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k := range a.Options {
		if _, ok := b.Options[k]; !ok {
			return false
		}
	}
	return true
}
