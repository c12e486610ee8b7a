// Package openai provides a batch transcriber backed by the OpenAI audio
// transcription API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

const (
	defaultModel    = "whisper-1"
	defaultLanguage = "fa"
)

// Compile-time assertion that Transcriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*Transcriber)(nil)

// config holds optional configuration for the transcriber.
type config struct {
	baseURL    string
	model      string
	language   string
	timeout    time.Duration
	maxRetries int
	prompt     string
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any API-compatible
// endpoint (Groq, a local faster-whisper server) works.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the language used when a request carries none.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how often the SDK retries transient failures.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithPrompt sets a vocabulary prompt that biases recognition towards the
// given spellings, for example technical terms.
func WithPrompt(prompt string) Option {
	return func(c *config) { c.prompt = prompt }
}

// Transcriber implements stt.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

// New constructs a Transcriber. An empty apiKey yields a CredentialMissing
// error so that misconfiguration fails at startup.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, types.NewError(types.KindCredentialMissing, "openai: new transcriber",
			errors.New("OpenAI API key is not configured"))
	}

	cfg := &config{model: defaultModel, language: defaultLanguage, maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
		prompt:   cfg.prompt,
	}, nil
}

// Name implements stt.Transcriber.
func (t *Transcriber) Name() string { return stt.ModeOpenAI }

// Input implements stt.Transcriber. Uploads are sent as compact Ogg/Opus.
func (t *Transcriber) Input() audio.Canonical { return audio.CanonicalCompact }

// verboseTranscription is the verbose_json response body.
type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe implements stt.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, language string) (stt.Result, error) {
	if language == "" {
		language = t.language
	}

	in := audio.CanonicalCompact
	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(data), "audio"+in.Extension(), in.MIMEType()),
		Model:          oai.AudioModel(t.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
		Temperature:    oai.Float(0),
	}
	if lang := stt.BaseLanguage(language); lang != "" {
		params.Language = oai.String(lang)
	}
	if t.prompt != "" {
		params.Prompt = oai.String(t.prompt)
	}

	var raw []byte
	if _, err := t.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&raw)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("openai: transcribe: %w", ctxErr)
		}
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "openai: transcribe", backendError(err))
	}

	var out verboseTranscription
	if err := json.Unmarshal(raw, &out); err != nil {
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "openai: parse response", err)
	}

	if len(out.Segments) == 0 {
		r := stt.NewResult(nil)
		r.Text = strings.TrimSpace(out.Text)
		return r, nil
	}
	segments := make([]types.Segment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, types.Segment{Text: s.Text, Confidence: s.AvgLogprob})
	}
	return stt.NewResult(segments), nil
}

// backendError reduces an SDK error to the message the API returned, so it
// can be propagated to clients.
func backendError(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return fmt.Errorf("%s (HTTP %d)", apiErr.Message, apiErr.StatusCode)
	}
	return err
}
