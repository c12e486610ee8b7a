package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcription": {TranscriberWhisperOffline, TranscriberWhisperHTTP, TranscriberOpenAI},
	"streaming":     {"deepgram", "chunked"},
	"llm":           {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references in credentials, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ExpandEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} and $VAR references in credential and endpoint
// fields with values from the environment.
func ExpandEnv(cfg *Config) {
	expand := func(e *ProviderEntry) {
		e.APIKey = os.ExpandEnv(e.APIKey)
		e.BaseURL = os.ExpandEnv(e.BaseURL)
	}
	expand(&cfg.Transcription.Primary)
	for i := range cfg.Transcription.Fallbacks {
		expand(&cfg.Transcription.Fallbacks[i])
	}
	expand(&cfg.Streaming)
	expand(&cfg.Correction.LLM)
	for i := range cfg.Correction.Fallbacks {
		expand(&cfg.Correction.Fallbacks[i])
	}
	cfg.Events.Token = os.ExpandEnv(cfg.Events.Token)
	cfg.Events.Password = os.ExpandEnv(cfg.Events.Password)
}

// ApplyDefaults fills unset fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Transcription.Language == "" {
		cfg.Transcription.Language = DefaultLanguage
	}
	if cfg.Transcription.CircuitBreaker.MaxFailures == 0 {
		cfg.Transcription.CircuitBreaker.MaxFailures = DefaultMaxFailures
	}
	if cfg.Transcription.CircuitBreaker.ResetTimeout == 0 {
		cfg.Transcription.CircuitBreaker.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Correction.BalancedStyle == "" {
		cfg.Correction.BalancedStyle = StyleBalanced
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = "/mcp"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes %d must not be negative", cfg.Server.MaxUploadBytes))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Transcription
	tr := cfg.Transcription
	if tr.Primary.Name == "" {
		errs = append(errs, errors.New("transcription.primary.name is required"))
	}
	entries := append([]ProviderEntry{tr.Primary}, tr.Fallbacks...)
	for i, e := range entries {
		prefix := "transcription.primary"
		if i > 0 {
			prefix = fmt.Sprintf("transcription.fallbacks[%d]", i-1)
		}
		if i > 0 && e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		validateProviderName("transcription", e.Name)
		switch e.Name {
		case TranscriberWhisperOffline:
			if e.Model == "" {
				errs = append(errs, fmt.Errorf("%s.model must point at a ggml model file", prefix))
			}
		case TranscriberWhisperHTTP:
			if e.BaseURL == "" {
				errs = append(errs, fmt.Errorf("%s.base_url is required for whisper-http", prefix))
			}
		}
	}
	if tr.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.circuit_breaker.max_failures %d must not be negative", tr.CircuitBreaker.MaxFailures))
	}

	// Streaming
	validateProviderName("streaming", cfg.Streaming.Name)

	// Correction
	c := cfg.Correction
	if c.Enabled && c.LLM.Name == "" {
		errs = append(errs, errors.New("correction.llm.name is required when correction is enabled"))
	}
	if c.Enabled && c.LLM.Name != "" && c.LLM.Model == "" {
		errs = append(errs, errors.New("correction.llm.model is required when correction is enabled"))
	}
	validateProviderName("llm", c.LLM.Name)
	for i, e := range c.Fallbacks {
		if e.Name == "" || e.Model == "" {
			errs = append(errs, fmt.Errorf("correction.fallbacks[%d] needs name and model", i))
		}
		validateProviderName("llm", e.Name)
	}
	if c.BalancedStyle != "" && c.BalancedStyle != StyleBalanced && c.BalancedStyle != StyleFewShot {
		errs = append(errs, fmt.Errorf("correction.balanced_style %q is invalid; valid values: balanced, fewshot", c.BalancedStyle))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("correction.temperature %.2f is out of range [0, 2]", c.Temperature))
	}
	for i, term := range c.Glossary {
		if strings.TrimSpace(term.Canonical) == "" {
			errs = append(errs, fmt.Errorf("correction.glossary[%d].canonical is required", i))
		}
	}

	// Telemetry
	switch strings.ToLower(cfg.Telemetry.TraceExporter) {
	case "", "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp"))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q is invalid; valid values: none, stdout, otlp", cfg.Telemetry.TraceExporter))
	}

	// MCP
	if cfg.MCP.Enabled && !strings.HasPrefix(cfg.MCP.Path, "/") {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a custom registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
