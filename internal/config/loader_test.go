package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/goftar/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing primary",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"transcription.primary.name is required"},
		},
		{
			name: "bad log level",
			yaml: `
server:
  log_level: verbose
transcription:
  primary:
    name: openai
`,
			wantErr: []string{"server.log_level"},
		},
		{
			name: "offline without model",
			yaml: `
transcription:
  primary:
    name: whisper-offline
`,
			wantErr: []string{"transcription.primary.model"},
		},
		{
			name: "http fallback without url",
			yaml: `
transcription:
  primary:
    name: openai
  fallbacks:
    - name: whisper-http
`,
			wantErr: []string{"transcription.fallbacks[0].base_url"},
		},
		{
			name: "correction without llm",
			yaml: `
transcription:
  primary:
    name: openai
correction:
  enabled: true
`,
			wantErr: []string{"correction.llm.name is required"},
		},
		{
			name: "bad style and temperature",
			yaml: `
transcription:
  primary:
    name: openai
correction:
  balanced_style: creative
  temperature: 3
`,
			wantErr: []string{"correction.balanced_style", "correction.temperature"},
		},
		{
			name: "otlp without endpoint",
			yaml: `
transcription:
  primary:
    name: openai
telemetry:
  trace_exporter: otlp
`,
			wantErr: []string{"telemetry.otlp_endpoint"},
		},
		{
			name: "tls half configured",
			yaml: `
server:
  tls:
    cert_file: cert.pem
transcription:
  primary:
    name: openai
`,
			wantErr: []string{"server.tls"},
		},
		{
			name: "every failure is reported",
			yaml: `
server:
  log_level: loud
  max_upload_bytes: -1
telemetry:
  trace_exporter: zipkin
`,
			wantErr: []string{"server.log_level", "server.max_upload_bytes", "transcription.primary.name", "telemetry.trace_exporter"},
		},
		{
			name: "unknown provider names only warn",
			yaml: `
transcription:
  primary:
    name: my-custom-backend
streaming:
  name: custom-stream
`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if len(tc.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error mentioning %v", tc.wantErr)
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestExpandEnv_LeavesLiteralsAlone(t *testing.T) {
	t.Setenv("GOFTAR_TEST_TOKEN", "nats-secret")

	cfg := &config.Config{}
	cfg.Transcription.Primary.APIKey = "sk-literal"
	cfg.Events.Token = "${GOFTAR_TEST_TOKEN}"
	cfg.Correction.Fallbacks = []config.ProviderEntry{{APIKey: "$GOFTAR_TEST_TOKEN"}}
	config.ExpandEnv(cfg)

	if cfg.Transcription.Primary.APIKey != "sk-literal" {
		t.Errorf("literal key changed to %q", cfg.Transcription.Primary.APIKey)
	}
	if cfg.Events.Token != "nats-secret" {
		t.Errorf("events token = %q", cfg.Events.Token)
	}
	if cfg.Correction.Fallbacks[0].APIKey != "nats-secret" {
		t.Errorf("fallback key = %q", cfg.Correction.Fallbacks[0].APIKey)
	}
}
