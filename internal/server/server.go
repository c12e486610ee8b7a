// Package server is the HTTP surface of goftar. It accepts recordings on
// /api/stt, streams live recognition over /api/live and mounts the health,
// metrics and MCP handlers supplied by the caller.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/goftar/internal/device"
	"github.com/MrWong99/goftar/internal/health"
	"github.com/MrWong99/goftar/internal/observe"
	"github.com/MrWong99/goftar/internal/pipeline"
	"github.com/MrWong99/goftar/internal/recognition"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

const (
	// DefaultMaxUploadBytes caps the request body of /api/stt.
	DefaultMaxUploadBytes = 25 << 20

	// multipartMemory is how much of a multipart body is held in memory
	// before the rest spills to temporary files.
	multipartMemory = 8 << 20

	defaultLiveLanguage = "fa-IR"
)

// Processor runs an upload through the transcription pipeline.
type Processor interface {
	Process(ctx context.Context, up pipeline.Upload) (pipeline.Response, error)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Option configures a [Server].
type Option func(*Server)

// WithStreaming enables /api/live on top of p.
func WithStreaming(p stt.Provider, cfg stt.StreamConfig) Option {
	return func(s *Server) {
		s.streams = p
		s.streamCfg = cfg
	}
}

// WithLiveLanguage sets the recognition language tag used when a live
// client does not pass ?lang. Default: "fa-IR".
func WithLiveLanguage(tag string) Option {
	return func(s *Server) { s.liveLanguage = tag }
}

// WithLiveOrigins sets the origin patterns accepted by /api/live. An empty
// list only admits same-origin clients.
func WithLiveOrigins(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithRecognitionClock sets the clock of live recognition controllers.
func WithRecognitionClock(c recognition.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithHealth mounts /healthz, /readyz and /api/ping from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMCP mounts h on path. An empty path means "/mcp".
func WithMCP(path string, h http.Handler) Option {
	return func(s *Server) {
		if path == "" {
			path = "/mcp"
		}
		s.mcpPath, s.mcp = path, h
	}
}

// WithMaxUploadBytes caps the size of an /api/stt request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithMetrics sets the instruments used for request and session metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server routes goftar's HTTP API.
type Server struct {
	proc           Processor
	streams        stt.Provider
	streamCfg      stt.StreamConfig
	liveLanguage   string
	origins        []string
	clock          recognition.Clock
	health         *health.Handler
	metricsHandler http.Handler
	mcp            http.Handler
	mcpPath        string
	maxUpload      int64
	metrics        *observe.Metrics
	log            *slog.Logger
}

// New returns a Server that hands uploads to proc.
func New(proc Processor, opts ...Option) (*Server, error) {
	if proc == nil {
		return nil, errors.New("server: processor must not be nil")
	}
	s := &Server{
		proc:         proc,
		liveLanguage: defaultLiveLanguage,
		clock:        recognition.SystemClock,
		maxUpload:    DefaultMaxUploadBytes,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxUpload <= 0 {
		return nil, fmt.Errorf("server: max upload bytes must be positive, got %d", s.maxUpload)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.health == nil {
		s.health = health.New(nil)
	}
	return s, nil
}

// Handler returns the routed API wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/stt", s.handleSTT)
	mux.HandleFunc("GET /api/profile", s.handleProfile)
	mux.HandleFunc("GET /api/live", s.handleLive)
	s.health.Register(mux)
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}
	if s.mcp != nil {
		mux.Handle(s.mcpPath, s.mcp)
	}
	return observe.Middleware(s.metrics)(mux)
}

// ListenConfig describes the listening socket.
type ListenConfig struct {
	Addr     string
	CertFile string
	KeyFile  string

	// ShutdownGrace bounds graceful shutdown. Default: 10s.
	ShutdownGrace time.Duration
}

// ListenAndServe serves Handler until ctx is cancelled, then drains open
// requests within cfg.ShutdownGrace. TLS is used when both certificate
// files are set.
func (s *Server) ListenAndServe(ctx context.Context, cfg ListenConfig) error {
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.CertFile != "" && cfg.KeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	s.log.Info("http server listening", "addr", cfg.Addr, "tls", cfg.CertFile != "")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	if r.ContentLength > s.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload), types.KindInvalidInput)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload), types.KindInvalidInput)
			return
		}
		writeError(w, http.StatusBadRequest, "expected a multipart form with an audio field", types.KindInvalidInput)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no audio file provided", types.KindInvalidInput)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read audio field", types.KindInvalidInput)
		return
	}

	resp, err := s.proc.Process(r.Context(), pipeline.Upload{
		Data:     data,
		Filename: hdr.Filename,
		Language: r.FormValue("language"),
	})
	if err != nil {
		status := StatusFor(err)
		log.Warn("stt request failed", "status", status, "kind", types.KindOf(err), "err", err)
		writeError(w, status, types.ErrorMessage(err), types.KindOf(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, device.Resolve(device.SignalsFromRequest(r)))
}

// StatusFor maps a pipeline error onto an HTTP status code.
func StatusFor(err error) int {
	switch types.KindOf(err) {
	case types.KindInvalidInput:
		return http.StatusBadRequest
	case types.KindTranscode:
		return http.StatusUnprocessableEntity
	case types.KindModelMissing, types.KindCredentialMissing:
		return http.StatusInternalServerError
	case types.KindTranscriptionBackend, types.KindCorrectionBackend:
		return http.StatusBadGateway
	case types.KindUnsupported:
		return http.StatusNotImplemented
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, msg string, kind types.Kind) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: string(kind)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: encode response", "err", err)
	}
}
