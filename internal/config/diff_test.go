package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/goftar/internal/config"
	"github.com/MrWong99/goftar/internal/correction/terms"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.LogLevel = config.LogInfo
	cfg.Server.ListenAddr = ":8080"
	cfg.Transcription.Primary = config.ProviderEntry{Name: "whisper-offline", Model: "/m.bin"}
	cfg.Correction = config.CorrectionConfig{
		Enabled:       true,
		LLM:           config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		BalancedStyle: config.StyleBalanced,
		Glossary:      []terms.Term{{Canonical: "Docker", Aliases: []string{"داکر"}}},
	}
	return cfg
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(c *config.Config)
		wantLog     bool
		wantCorr    bool
		wantRestart []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{name: "log level", mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, wantLog: true},
		{name: "balanced style", mutate: func(c *config.Config) { c.Correction.BalancedStyle = config.StyleFewShot }, wantCorr: true},
		{name: "compare mode", mutate: func(c *config.Config) { c.Correction.CompareStrategies = true }, wantCorr: true},
		{name: "glossary alias", mutate: func(c *config.Config) {
			c.Correction.Glossary = []terms.Term{{Canonical: "Docker", Aliases: []string{"دوکر"}}}
		}, wantCorr: true},
		{name: "correction model", mutate: func(c *config.Config) { c.Correction.LLM.Model = "gpt-4o" }, wantRestart: []string{"correction.llm"}},
		{name: "transcriber", mutate: func(c *config.Config) { c.Transcription.Primary.Name = "openai" }, wantRestart: []string{"transcription"}},
		{name: "listen addr", mutate: func(c *config.Config) { c.Server.ListenAddr = ":9090" }, wantRestart: []string{"server.listen_addr"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, updated := baseConfig(), baseConfig()
			tc.mutate(updated)

			d := config.Diff(old, updated)
			if d.LogLevelChanged != tc.wantLog {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLog)
			}
			if tc.wantLog && d.NewLogLevel != updated.Server.LogLevel {
				t.Errorf("NewLogLevel = %q", d.NewLogLevel)
			}
			if d.CorrectionChanged != tc.wantCorr {
				t.Errorf("CorrectionChanged = %v, want %v", d.CorrectionChanged, tc.wantCorr)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
			if d.Changed() != (tc.wantLog || tc.wantCorr) {
				t.Errorf("Changed = %v", d.Changed())
			}
		})
	}
}
