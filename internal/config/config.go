// Package config provides the configuration schema, loader and provider
// registry for the goftar speech-to-text server.
package config

import (
	"time"

	"github.com/MrWong99/goftar/internal/correction/terms"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Transcriber names understood by [Validate].
const (
	TranscriberWhisperOffline = "whisper-offline"
	TranscriberWhisperHTTP    = "whisper-http"
	TranscriberOpenAI         = "openai"
)

// Balanced tier styles.
const (
	StyleBalanced = "balanced"
	StyleFewShot  = "fewshot"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultMaxUploadBytes = 25 << 20
	DefaultLanguage       = "fa"
	DefaultMaxFailures    = 5
	DefaultResetTimeout   = 30 * time.Second
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Streaming     ProviderEntry       `yaml:"streaming"`
	Correction    CorrectionConfig    `yaml:"correction"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Events        EventsConfig        `yaml:"events"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadBytes caps the size of a /api/stt request body.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// WorkDir receives per-request temporary directories. Empty means the
	// system temp dir.
	WorkDir string `yaml:"work_dir"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry is the configuration block shared by all backends. Name
// selects the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai",
	// "whisper-offline", "deepgram").
	Name string `yaml:"name"`

	// APIKey authenticates with the backend. ${VAR} references are expanded
	// from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the backend. For whisper-offline it is the
	// path of the ggml model file.
	Model string `yaml:"model"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TranscriptionConfig selects the batch transcription backends.
type TranscriptionConfig struct {
	// Primary serves every request while its circuit breaker is closed.
	Primary ProviderEntry `yaml:"primary"`

	// Fallbacks are tried in order when the primary fails. They must accept
	// the same canonical audio format as the primary.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Language is the default language for uploads that carry none.
	Language string `yaml:"language"`

	// FFmpegCommand is the converter command prefix.
	FFmpegCommand string `yaml:"ffmpeg_command"`

	// DisableNativeDecoding routes every upload through ffmpeg.
	DisableNativeDecoding bool `yaml:"disable_native_decoding"`

	// WarmOnStart loads an offline model during startup instead of on the
	// first request.
	WarmOnStart bool `yaml:"warm_on_start"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breakers around each backend.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// CorrectionConfig controls LLM post-correction.
type CorrectionConfig struct {
	// Enabled turns correction on. Without it transcripts are returned as
	// recognised.
	Enabled bool `yaml:"enabled"`

	// LLM is the correction model. Names are "openai" or any any-llm-go
	// backend ("anthropic", "gemini", "ollama", ...).
	LLM ProviderEntry `yaml:"llm"`

	// Fallbacks are alternative correction models.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// BalancedStyle is "balanced" (default) or "fewshot".
	BalancedStyle string `yaml:"balanced_style"`

	// CompareStrategies evaluates every tier and logs the results.
	CompareStrategies bool `yaml:"compare_strategies"`

	// Temperature overrides the sampling temperature. Zero keeps the default.
	Temperature float64 `yaml:"temperature"`

	// Glossary replaces the built-in technical vocabulary when non-empty.
	Glossary []terms.Term `yaml:"glossary"`
}

// TelemetryConfig configures OpenTelemetry.
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	Environment   string `yaml:"environment"`
	TraceExporter string `yaml:"trace_exporter"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
}

// EventsConfig configures transcription event publishing.
type EventsConfig struct {
	// Servers lists NATS URLs. Empty disables publishing unless Embedded is
	// enabled.
	Servers []string `yaml:"servers"`

	SubjectPrefix string `yaml:"subject_prefix"`
	Token         string `yaml:"token"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`

	Embedded EmbeddedNATSConfig `yaml:"embedded"`
}

// EmbeddedNATSConfig runs a NATS server inside the process.
type EmbeddedNATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MCPConfig exposes the transcriber as a Model Context Protocol tool.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is where the streamable-HTTP endpoint is mounted. Default: /mcp.
	Path string `yaml:"path"`
}
