package config

import (
	"slices"

	"github.com/MrWong99/goftar/internal/correction/terms"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// CorrectionChanged is true when the correction style, comparison
	// mode, temperature or glossary changed. Switching the model or
	// enabling correction needs a restart.
	CorrectionChanged bool

	// RestartRequired lists sections whose changes are ignored until the
	// next restart.
	RestartRequired []string
}

// Changed reports whether d holds anything to apply.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CorrectionChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oc, nc := old.Correction, new.Correction
	if oc.BalancedStyle != nc.BalancedStyle ||
		oc.CompareStrategies != nc.CompareStrategies ||
		oc.Temperature != nc.Temperature ||
		!slices.EqualFunc(oc.Glossary, nc.Glossary, func(a, b terms.Term) bool {
			return a.Canonical == b.Canonical && slices.Equal(a.Aliases, b.Aliases)
		}) {
		d.CorrectionChanged = true
	}

	if oc.Enabled != nc.Enabled || !entryEqual(oc.LLM, nc.LLM) || !entriesEqual(oc.Fallbacks, nc.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "correction.llm")
	}
	if !entryEqual(old.Transcription.Primary, new.Transcription.Primary) ||
		!entriesEqual(old.Transcription.Fallbacks, new.Transcription.Fallbacks) {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !entryEqual(old.Streaming, new.Streaming) {
		d.RestartRequired = append(d.RestartRequired, "streaming")
	}
	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	return d
}

func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model && len(a.Options) == len(b.Options)
}

func entriesEqual(a, b []ProviderEntry) bool {
	return slices.EqualFunc(a, b, entryEqual)
}
