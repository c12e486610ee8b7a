// Package app wires the goftar subsystems into a running server.
//
// New builds the transcoder, transcription backends, correction, event
// publishing, telemetry, the MCP tool server and the HTTP surface from a
// [config.Config]. Run serves until the context ends, Reload applies
// hot-reloadable config changes and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithTranscoder,
// WithPublisher, WithTelemetry). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/goftar/internal/config"
	"github.com/MrWong99/goftar/internal/correction"
	"github.com/MrWong99/goftar/internal/correction/terms"
	"github.com/MrWong99/goftar/internal/events"
	"github.com/MrWong99/goftar/internal/health"
	"github.com/MrWong99/goftar/internal/mcp"
	"github.com/MrWong99/goftar/internal/observe"
	"github.com/MrWong99/goftar/internal/pipeline"
	"github.com/MrWong99/goftar/internal/resilience"
	"github.com/MrWong99/goftar/internal/server"
	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/llm"
	"github.com/MrWong99/goftar/pkg/provider/stt"
)

// Named pairs a backend with the config name it was built from.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the backends built by main.go through the config
// registry. The first element of each slice is the primary.
type Providers struct {
	Transcribers []stt.Transcriber
	Streams      []Named[stt.Provider]
	LLMs         []Named[llm.Provider]
}

// warmer is implemented by transcribers with a lazily loaded model.
type warmer interface {
	Warm() error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	version   string
	level     *slog.LevelVar

	telemetry   *observe.Telemetry
	metrics     *observe.Metrics
	transcoder  pipeline.Transcoder
	transcriber stt.Transcriber
	stream      stt.Provider
	llm         llm.Provider
	publisher   events.Publisher
	pipeline    *pipeline.Pipeline
	mcp         *mcp.Server
	server      *server.Server
	checkers    []health.Checker

	mu  sync.Mutex
	cur *config.Config

	// closers run in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithTranscoder injects a transcoder instead of building one from config.
func WithTranscoder(t pipeline.Transcoder) Option {
	return func(a *App) { a.transcoder = t }
}

// WithPublisher injects an event publisher instead of connecting to NATS.
func WithPublisher(p events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithTelemetry injects telemetry instead of initialising the global
// OpenTelemetry providers.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithLevelVar lets Reload change the level of the process logger.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithVersion sets the version reported by telemetry and MCP.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// New wires every subsystem. All initialisation happens synchronously so a
// misconfiguration fails before the server starts listening.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || len(providers.Transcribers) == 0 {
		return nil, errors.New("app: at least one transcriber is required")
	}
	a := &App{cfg: cfg, cur: cfg, providers: providers, version: "dev"}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initTranscription(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}
	a.initStreaming()
	a.initLLM()
	if err := a.initEvents(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init events: %w", err)
	}
	if err := a.initPipeline(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init pipeline: %w", err)
	}
	if err := a.initServer(); err != nil {
		a.cleanup()
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	slog.Info("app initialised",
		"transcriber", a.transcriber.Name(),
		"fallbacks", len(providers.Transcribers)-1,
		"streaming", a.stream != nil,
		"correction", a.llm != nil,
		"mcp", a.mcp != nil,
	)
	return a, nil
}

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		tc := a.cfg.Telemetry
		t, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    tc.ServiceName,
			ServiceVersion: a.version,
			Environment:    tc.Environment,
			TraceExporter:  tc.TraceExporter,
			OTLPEndpoint:   tc.OTLPEndpoint,
			OTLPInsecure:   tc.OTLPInsecure,
		})
		if err != nil {
			return err
		}
		a.telemetry = t
		a.closers = append(a.closers, func() error {
			return t.Shutdown(context.Background())
		})
	}
	a.metrics = a.telemetry.Metrics
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return nil
}

func (a *App) initTranscription() error {
	tc := a.cfg.Transcription
	if a.transcoder == nil {
		ff, err := audio.NewFFmpeg(tc.FFmpegCommand)
		if err != nil {
			return err
		}
		t, err := audio.NewTranscoder(
			audio.WithConverter(ff),
			audio.WithNativeDecoding(!tc.DisableNativeDecoding),
		)
		if err != nil {
			return err
		}
		a.transcoder = t
	}

	primary := a.providers.Transcribers[0]
	if tc.WarmOnStart {
		if w, ok := primary.(warmer); ok {
			if err := w.Warm(); err != nil {
				return fmt.Errorf("warm %s: %w", primary.Name(), err)
			}
			slog.Info("transcription model loaded", "transcriber", primary.Name())
		}
	}
	for _, t := range a.providers.Transcribers {
		if c, ok := t.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	if len(a.providers.Transcribers) == 1 {
		a.transcriber = primary
		a.addModelCheck(tc.Primary)
		return nil
	}

	fb := resilience.NewTranscriberFallback(primary, a.fallbackConfig("transcription"))
	for _, t := range a.providers.Transcribers[1:] {
		if err := fb.AddFallback(t); err != nil {
			return err
		}
	}
	a.transcriber = fb
	a.addModelCheck(tc.Primary)
	a.checkers = append(a.checkers, health.BreakerChecker("transcription", fb.BreakerStates))
	return nil
}

// addModelCheck makes readiness depend on the offline model file.
func (a *App) addModelCheck(e config.ProviderEntry) {
	if e.Name == config.TranscriberWhisperOffline && e.Model != "" {
		a.checkers = append(a.checkers, health.FileChecker("model", e.Model))
	}
}

func (a *App) fallbackConfig(name string) resilience.FallbackConfig {
	cb := a.cfg.Transcription.CircuitBreaker
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  cb.MaxFailures,
		ResetTimeout: cb.ResetTimeout,
	}}
}

func (a *App) initStreaming() {
	streams := a.providers.Streams
	switch len(streams) {
	case 0:
		return
	case 1:
		a.stream = streams[0].Provider
	default:
		fb := resilience.NewStreamFallback(streams[0].Provider, streams[0].Name, a.fallbackConfig("streaming"))
		for _, s := range streams[1:] {
			fb.AddFallback(s.Name, s.Provider)
		}
		a.stream = fb
	}
}

func (a *App) initLLM() {
	llms := a.providers.LLMs
	switch len(llms) {
	case 0:
		return
	case 1:
		a.llm = llms[0].Provider
	default:
		fb := resilience.NewLLMFallback(llms[0].Provider, llms[0].Name, a.fallbackConfig("correction"))
		for _, l := range llms[1:] {
			fb.AddFallback(l.Name, l.Provider)
		}
		a.llm = fb
	}
}

func (a *App) initEvents() error {
	if a.publisher != nil {
		return nil
	}
	ec := a.cfg.Events
	servers := slices.Clone(ec.Servers)

	if ec.Embedded.Enabled {
		emb, err := events.StartEmbedded(events.EmbeddedConfig{Host: ec.Embedded.Host, Port: ec.Embedded.Port}, slog.Default())
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { emb.Shutdown(); return nil })
		if len(servers) == 0 {
			servers = []string{emb.ClientURL()}
		}
	}
	if len(servers) == 0 {
		a.publisher = events.Nop{}
		return nil
	}

	n, err := events.ConnectNATS(events.NATSConfig{
		Servers:       servers,
		Name:          "goftar",
		Token:         ec.Token,
		Username:      ec.Username,
		Password:      ec.Password,
		SubjectPrefix: ec.SubjectPrefix,
	}, slog.Default())
	if err != nil {
		return err
	}
	// Drain the connection before the embedded server goes away.
	a.closers = slices.Insert(a.closers, 0, n.Close)
	a.publisher = n
	a.checkers = append(a.checkers, health.FuncChecker("events", n.Healthy))
	return nil
}

func (a *App) initPipeline() error {
	opts := []pipeline.Option{
		pipeline.WithPublisher(a.publisher),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithWorkDir(a.cfg.Server.WorkDir),
		pipeline.WithDefaultLanguage(a.cfg.Transcription.Language),
	}
	if c := a.buildCorrector(a.cfg.Correction); c != nil {
		opts = append(opts, pipeline.WithCorrector(c))
	}
	p, err := pipeline.New(a.transcoder, a.transcriber, opts...)
	if err != nil {
		return err
	}
	a.pipeline = p
	return nil
}

// buildCorrector returns nil when correction is disabled or no LLM exists.
func (a *App) buildCorrector(cc config.CorrectionConfig) *correction.Corrector {
	if !cc.Enabled || a.llm == nil {
		return nil
	}
	opts := []correction.Option{
		correction.WithCompare(cc.CompareStrategies),
		correction.WithGlossary(a.glossary(cc)),
	}
	if cc.Temperature != 0 {
		opts = append(opts, correction.WithTemperature(cc.Temperature))
	}
	// Validate has already rejected unknown styles.
	if style, err := correction.ParseStyle(cc.BalancedStyle); err == nil {
		opts = append(opts, correction.WithBalancedStyle(style))
	}
	return correction.New(a.llm, opts...)
}

func (a *App) glossary(cc config.CorrectionConfig) *terms.Glossary {
	if len(cc.Glossary) > 0 {
		return terms.New(cc.Glossary)
	}
	return terms.New(terms.DefaultTerms)
}

func (a *App) initServer() error {
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithMaxUploadBytes(a.cfg.Server.MaxUploadBytes),
		server.WithHealth(health.New(a.checkers)),
	}
	if a.telemetry.MetricsHandler != nil {
		opts = append(opts, server.WithMetricsHandler(a.telemetry.MetricsHandler))
	}
	if a.stream != nil {
		opts = append(opts, server.WithStreaming(a.stream, a.streamConfig()))
	}
	if a.cfg.MCP.Enabled {
		m, err := mcp.NewServer(a.pipeline, mcp.WithVersion(a.version))
		if err != nil {
			return err
		}
		a.mcp = m
		opts = append(opts, server.WithMCP(a.cfg.MCP.Path, m.Handler()))
	}
	s, err := server.New(a.pipeline, opts...)
	if err != nil {
		return err
	}
	a.server = s
	return nil
}

// streamConfig boosts the glossary's canonical spellings in live sessions.
func (a *App) streamConfig() stt.StreamConfig {
	cfg := stt.StreamConfig{SampleRate: 16000, Channels: 1}
	for _, term := range a.glossary(a.cfg.Correction).Canonicals() {
		cfg.Keywords = append(cfg.Keywords, stt.KeywordBoost{Keyword: term, Boost: 2})
	}
	return cfg
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Pipeline returns the transcription pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Run serves HTTP until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lc := server.ListenConfig{Addr: a.cfg.Server.ListenAddr}
		if tls := a.cfg.Server.TLS; tls != nil {
			lc.CertFile, lc.KeyFile = tls.CertFile, tls.KeyFile
		}
		return a.server.ListenAndServe(ctx, lc)
	})
	return g.Wait()
}

// Reload applies the hot-reloadable parts of next. It is the callback of a
// [config.Watcher].
func (a *App) Reload(old, next *config.Config) {
	d := config.Diff(old, next)
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	a.mu.Lock()
	a.cur = applyHot(a.cur, next)
	cc := a.cur.Correction
	a.mu.Unlock()

	if d.CorrectionChanged {
		if c := a.buildCorrector(cc); c != nil {
			a.pipeline.SetCorrector(c)
			slog.Info("correction settings reloaded", "style", cc.BalancedStyle, "compare", cc.CompareStrategies)
		}
	}
}

// applyHot returns cur with next's hot-reloadable fields.
func applyHot(cur, next *config.Config) *config.Config {
	c := *cur
	c.Server.LogLevel = next.Server.LogLevel
	c.Correction.BalancedStyle = next.Correction.BalancedStyle
	c.Correction.CompareStrategies = next.Correction.CompareStrategies
	c.Correction.Temperature = next.Correction.Temperature
	c.Correction.Glossary = next.Correction.Glossary
	return &c
}

// SlogLevel maps a config level onto slog.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Shutdown runs the closers in order. It respects the context deadline: if
// ctx expires first, the remaining closers are skipped and the context error
// is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// cleanup releases whatever New managed to open before failing.
func (a *App) cleanup() {
	for _, c := range a.closers {
		_ = c()
	}
}
