package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/goftar/internal/config"
	"github.com/MrWong99/goftar/pkg/provider/llm"
	llmmock "github.com/MrWong99/goftar/pkg/provider/llm/mock"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	sttmock "github.com/MrWong99/goftar/pkg/provider/stt/mock"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  max_upload_bytes: 1048576
transcription:
  primary:
    name: whisper-offline
    model: /models/ggml-large-v3.bin
  fallbacks:
    - name: whisper-http
      base_url: http://whisper:8080
  language: fa
  warm_on_start: true
  circuit_breaker:
    max_failures: 3
    reset_timeout: 10s
streaming:
  name: deepgram
  api_key: ${GOFTAR_TEST_DEEPGRAM_KEY}
correction:
  enabled: true
  llm:
    name: openai
    api_key: ${GOFTAR_TEST_OPENAI_KEY}
    model: gpt-4o-mini
  balanced_style: fewshot
  compare_strategies: true
  glossary:
    - canonical: Next.js
      aliases: ["نکست جی اس"]
telemetry:
  trace_exporter: otlp
  otlp_endpoint: localhost:4317
events:
  servers: ["nats://localhost:4222"]
mcp:
  enabled: true
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Setenv("GOFTAR_TEST_OPENAI_KEY", "sk-test")
	t.Setenv("GOFTAR_TEST_DEEPGRAM_KEY", "dg-test")

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.MaxUploadBytes != 1<<20 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Transcription.Primary.Model != "/models/ggml-large-v3.bin" {
		t.Errorf("primary model = %q", cfg.Transcription.Primary.Model)
	}
	if len(cfg.Transcription.Fallbacks) != 1 || cfg.Transcription.Fallbacks[0].Name != config.TranscriberWhisperHTTP {
		t.Errorf("fallbacks = %+v", cfg.Transcription.Fallbacks)
	}
	if cb := cfg.Transcription.CircuitBreaker; cb.MaxFailures != 3 || cb.ResetTimeout != 10*time.Second {
		t.Errorf("circuit breaker = %+v", cb)
	}
	if cfg.Correction.LLM.APIKey != "sk-test" {
		t.Errorf("correction api key = %q, want expanded from env", cfg.Correction.LLM.APIKey)
	}
	if cfg.Streaming.APIKey != "dg-test" {
		t.Errorf("streaming api key = %q, want expanded from env", cfg.Streaming.APIKey)
	}
	if cfg.Correction.BalancedStyle != config.StyleFewShot || !cfg.Correction.CompareStrategies {
		t.Errorf("correction = %+v", cfg.Correction)
	}
	if len(cfg.Correction.Glossary) != 1 || cfg.Correction.Glossary[0].Aliases[0] != "نکست جی اس" {
		t.Errorf("glossary = %+v", cfg.Correction.Glossary)
	}
	if cfg.MCP.Path != "/mcp" {
		t.Errorf("mcp path = %q, want default /mcp", cfg.MCP.Path)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(`
transcription:
  primary:
    name: openai
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.MaxUploadBytes != config.DefaultMaxUploadBytes {
		t.Errorf("max_upload_bytes = %d", cfg.Server.MaxUploadBytes)
	}
	if cfg.Transcription.Language != "fa" {
		t.Errorf("language = %q", cfg.Transcription.Language)
	}
	if cfg.Correction.BalancedStyle != config.StyleBalanced {
		t.Errorf("balanced_style = %q", cfg.Correction.BalancedStyle)
	}
	if cb := cfg.Transcription.CircuitBreaker; cb.MaxFailures != config.DefaultMaxFailures || cb.ResetTimeout != config.DefaultResetTimeout {
		t.Errorf("circuit breaker = %+v", cb)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader(`
transcription:
  primary:
    name: openai
  primray:
    name: typo
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "primray") {
		t.Errorf("error should name the unknown field, got: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "goftar.yaml")
	if err := os.WriteFile(path, []byte("transcription:\n  primary:\n    name: openai\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := config.NewRegistry()
	boom := errors.New("boom")
	r.RegisterTranscriber("failing", func(config.ProviderEntry) (stt.Transcriber, error) { return nil, boom })
	r.RegisterTranscriber("mock", func(e config.ProviderEntry) (stt.Transcriber, error) {
		return &sttmock.Transcriber{Mode: e.StringOption("mode", "mock")}, nil
	})
	r.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })

	tr, err := r.CreateTranscriber(config.ProviderEntry{Name: "mock", Options: map[string]any{"mode": "custom"}})
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if tr.Name() != "custom" {
		t.Errorf("Name = %q, want custom", tr.Name())
	}
	if _, err := r.CreateTranscriber(config.ProviderEntry{Name: "failing"}); !errors.Is(err, boom) {
		t.Errorf("factory error = %v, want boom", err)
	}
	if _, err := r.CreateTranscriber(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown transcriber error = %v", err)
	}
	if _, err := r.CreateStream(config.ProviderEntry{Name: "deepgram"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("unknown stream error = %v", err)
	}
	if _, err := r.CreateLLM(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateLLM: %v", err)
	}
	if n := len(r.Names("transcription")); n != 2 {
		t.Errorf("transcription names = %d, want 2", n)
	}
}

func TestProviderEntry_Options(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"prompt": "سلام", "threshold": 300, "ratio": 0.5, "fast": true}}
	if got := e.StringOption("prompt", ""); got != "سلام" {
		t.Errorf("StringOption = %q", got)
	}
	if got := e.StringOption("missing", "def"); got != "def" {
		t.Errorf("StringOption default = %q", got)
	}
	if got := e.FloatOption("threshold", 0); got != 300 {
		t.Errorf("FloatOption(int) = %v", got)
	}
	if got := e.FloatOption("ratio", 0); got != 0.5 {
		t.Errorf("FloatOption = %v", got)
	}
	if !e.BoolOption("fast", false) || !e.BoolOption("missing", true) {
		t.Error("BoolOption mismatch")
	}
}
