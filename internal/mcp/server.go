// Package mcp exposes the transcription pipeline as Model Context Protocol
// tools so agents can transcribe recordings without speaking the multipart
// upload API.
//
// Two tools are registered:
//
//   - transcribe_audio takes base64 audio and returns {text, mode}.
//   - resolve_device_profile maps client signals to recognition tuning.
//
// [Handler] serves the tools over the streamable HTTP transport.
package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/goftar/internal/device"
	"github.com/MrWong99/goftar/internal/pipeline"
	"github.com/MrWong99/goftar/pkg/types"
)

// Tool names.
const (
	ToolTranscribe = "transcribe_audio"
	ToolProfile    = "resolve_device_profile"
)

// Processor runs uploads through the pipeline.
type Processor interface {
	Process(ctx context.Context, up pipeline.Upload) (pipeline.Response, error)
}

// TranscribeInput is the argument object of transcribe_audio.
type TranscribeInput struct {
	Audio    string `json:"audio" jsonschema:"base64-encoded recording in any container ffmpeg can read"`
	Language string `json:"language,omitempty" jsonschema:"language code, defaults to fa"`
	Filename string `json:"filename,omitempty" jsonschema:"original file name, used as a format hint"`
}

// ProfileInput is the argument object of resolve_device_profile.
type ProfileInput struct {
	UserAgent      string `json:"user_agent" jsonschema:"browser user agent string"`
	Platform       string `json:"platform,omitempty" jsonschema:"navigator.platform value"`
	MaxTouchPoints int    `json:"max_touch_points,omitempty" jsonschema:"navigator.maxTouchPoints value"`
}

// ProfileOutput is the structured result of resolve_device_profile.
type ProfileOutput struct {
	Platform           string `json:"platform"`
	UsesWatchdog       bool   `json:"uses_watchdog"`
	WatchdogIntervalMS int64  `json:"watchdog_interval_ms"`
	RestartDelayMS     int64  `json:"restart_delay_ms"`
	Continuous         bool   `json:"continuous"`
	SilenceTimeoutMS   int64  `json:"silence_timeout_ms"`
	PreferCapture      bool   `json:"prefer_capture"`
}

// Option configures a [Server].
type Option func(*Server)

// WithVersion sets the implementation version reported during initialisation.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server owns the MCP server and its tool registrations.
type Server struct {
	proc    Processor
	version string
	log     *slog.Logger
	srv     *mcpsdk.Server
}

// NewServer registers the goftar tools backed by proc.
func NewServer(proc Processor, opts ...Option) (*Server, error) {
	if proc == nil {
		return nil, errors.New("mcp: processor must not be nil")
	}
	s := &Server{proc: proc, version: "dev", log: slog.Default()}
	for _, o := range opts {
		o(s)
	}

	s.srv = mcpsdk.NewServer(&mcpsdk.Implementation{Name: "goftar", Version: s.version}, nil)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolTranscribe,
		Description: "Transcribe a Persian or English recording. Returns the text and the mode that produced it.",
	}, s.transcribe)
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        ToolProfile,
		Description: "Resolve the speech recognition tuning profile for a browser.",
	}, s.profile)
	return s, nil
}

// MCP returns the underlying SDK server, e.g. for in-memory transports.
func (s *Server) MCP() *mcpsdk.Server { return s.srv }

// Handler returns an http.Handler speaking the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return s.srv }, nil)
}

func (s *Server) transcribe(ctx context.Context, _ *mcpsdk.CallToolRequest, in TranscribeInput) (*mcpsdk.CallToolResult, pipeline.Response, error) {
	data, err := base64.StdEncoding.DecodeString(in.Audio)
	if err != nil {
		return nil, pipeline.Response{}, fmt.Errorf("audio is not valid base64: %w", err)
	}
	resp, err := s.proc.Process(ctx, pipeline.Upload{
		Data:     data,
		Filename: in.Filename,
		Language: in.Language,
	})
	if err != nil {
		s.log.Warn("mcp: transcribe failed", "kind", types.KindOf(err), "err", err)
		return nil, pipeline.Response{}, fmt.Errorf("%s: %s", kindLabel(err), types.ErrorMessage(err))
	}
	return nil, resp, nil
}

func (s *Server) profile(_ context.Context, _ *mcpsdk.CallToolRequest, in ProfileInput) (*mcpsdk.CallToolResult, ProfileOutput, error) {
	sig := device.Signals{UserAgent: in.UserAgent, Platform: in.Platform, MaxTouchPoints: in.MaxTouchPoints}
	p := device.Resolve(sig)
	return nil, ProfileOutput{
		Platform:           p.Platform,
		UsesWatchdog:       p.UsesWatchdog,
		WatchdogIntervalMS: p.WatchdogInterval.Milliseconds(),
		RestartDelayMS:     p.RestartDelay.Milliseconds(),
		Continuous:         p.Continuous,
		SilenceTimeoutMS:   p.SilenceTimeout.Milliseconds(),
		PreferCapture:      p.PreferCapture(true),
	}, nil
}

func kindLabel(err error) string {
	if k := types.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
