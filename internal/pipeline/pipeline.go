// Package pipeline runs one uploaded recording through transcoding,
// transcription and confidence-tiered correction.
//
// A [Pipeline] is shared by all requests. Every call to [Pipeline.Process]
// works in its own uniquely named directory which is removed before the
// call returns, so concurrent requests never see each other's files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/goftar/internal/correction"
	"github.com/MrWong99/goftar/internal/events"
	"github.com/MrWong99/goftar/internal/observe"
	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

// DefaultLanguage is used for uploads that carry no language.
const DefaultLanguage = "fa"

var errEmptyUpload = errors.New("no audio data received")

// Upload is one recording submitted for transcription.
type Upload struct {
	// Data is the raw payload in whatever container the client produced.
	Data []byte

	// Filename is the client-supplied file name. It only serves as a format
	// hint.
	Filename string

	// Language is a BCP-47 tag or ISO-639-1 code. Empty means the pipeline
	// default.
	Language string
}

// Response is the outcome of a successful run.
type Response struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

// Transcoder converts uploads into a canonical format.
type Transcoder interface {
	Transcode(ctx context.Context, job audio.Job, target audio.Canonical) ([]byte, error)
}

// Corrector post-edits a transcript according to its confidence.
type Corrector interface {
	Correct(ctx context.Context, text string, confidence float64) correction.Outcome
}

var (
	_ Transcoder = (*audio.Transcoder)(nil)
	_ Corrector  = (*correction.Corrector)(nil)
)

// Option is a functional option for [Pipeline].
type Option func(*Pipeline)

// WithCorrector enables correction. Without it transcripts are returned
// as recognised.
func WithCorrector(c Corrector) Option {
	return func(p *Pipeline) { p.SetCorrector(c) }
}

// WithPublisher sets where outcome events go. Default: [events.Nop].
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWorkDir sets the parent of the per-request directories. Default:
// os.TempDir().
func WithWorkDir(dir string) Option {
	return func(p *Pipeline) { p.workRoot = dir }
}

// WithDefaultLanguage overrides [DefaultLanguage].
func WithDefaultLanguage(lang string) Option {
	return func(p *Pipeline) { p.language = lang }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	transcoder  Transcoder
	transcriber stt.Transcriber
	corrector   atomic.Pointer[correctorRef]
	publisher   events.Publisher
	metrics     *observe.Metrics
	workRoot    string
	language    string
	log         *slog.Logger
}

// New returns a Pipeline that transcodes with tc and transcribes with tr.
func New(tc Transcoder, tr stt.Transcriber, opts ...Option) (*Pipeline, error) {
	if tc == nil {
		return nil, errors.New("pipeline: transcoder must not be nil")
	}
	if tr == nil {
		return nil, errors.New("pipeline: transcriber must not be nil")
	}
	p := &Pipeline{
		transcoder:  tc,
		transcriber: tr,
		publisher:   events.Nop{},
		language:    DefaultLanguage,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.workRoot == "" {
		p.workRoot = os.TempDir()
	}
	return p, nil
}

type correctorRef struct{ c Corrector }

// SetCorrector replaces the corrector for subsequent requests. nil disables
// correction. Requests already past transcription keep the old one.
func (p *Pipeline) SetCorrector(c Corrector) {
	p.corrector.Store(&correctorRef{c: c})
}

func (p *Pipeline) currentCorrector() Corrector {
	if ref := p.corrector.Load(); ref != nil {
		return ref.c
	}
	return nil
}

// Transcriber returns the backend used for transcription.
func (p *Pipeline) Transcriber() stt.Transcriber { return p.transcriber }

// Process transcodes, transcribes and corrects up. Errors are *types.Error:
// InvalidInput for an empty upload, Transcode for undecodable audio and
// ModelMissing, CredentialMissing or TranscriptionBackend from the backend.
// Correction failures never surface; the raw transcript is returned instead.
func (p *Pipeline) Process(ctx context.Context, up Upload) (Response, error) {
	if len(up.Data) == 0 {
		return Response{}, types.NewError(types.KindInvalidInput, "pipeline: process", errEmptyUpload)
	}
	lang := up.Language
	if lang == "" {
		lang = p.language
	}

	r := &run{
		id:       uuid.NewString(),
		start:    time.Now(),
		upload:   up,
		language: lang,
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("job.id", r.id),
		attribute.String("language", lang),
		attribute.Int("upload.bytes", len(up.Data)),
	))
	defer span.End()
	p.metrics.AudioBytes.Record(ctx, int64(len(up.Data)))

	resp, err := p.process(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.KindOf(err)))
	}
	span.SetAttributes(attribute.String("mode", resp.Mode))
	p.metrics.RecordTranscription(ctx, resp.Mode, err)
	p.publish(ctx, r, resp, err)
	return resp, err
}

// run carries the per-request state shared by the stages.
type run struct {
	id         string
	start      time.Time
	upload     Upload
	language   string
	confidence float64
	strategy   correction.Strategy
}

func (p *Pipeline) process(ctx context.Context, r *run) (Response, error) {
	log := observe.Logger(ctx).With("job_id", r.id)

	dir := filepath.Join(p.workRoot, "goftar-"+r.id)
	if err := os.Mkdir(dir, 0o700); err != nil {
		return Response{}, types.TranscodeError(types.ReasonWrite, "pipeline: create work dir", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("pipeline: failed to remove work dir", "dir", dir, "err", err)
		}
	}()

	data, err := p.transcode(ctx, r, dir)
	if err != nil {
		log.Warn("pipeline: transcode failed", "filename", r.upload.Filename, "err", err)
		return Response{}, err
	}

	res, err := p.transcribe(ctx, r, data)
	if err != nil {
		p.metrics.RecordProviderError(ctx, p.transcriber.Name(), string(types.KindOf(err)))
		log.Warn("pipeline: transcription failed", "backend", p.transcriber.Name(), "err", err)
		return Response{}, err
	}
	r.confidence = res.Confidence

	mode := res.Mode
	if mode == "" {
		mode = p.transcriber.Name()
	}
	resp := Response{Text: res.Text, Mode: mode}

	if c := p.currentCorrector(); c != nil && res.Text != "" {
		out := p.correct(ctx, c, res)
		r.strategy = out.Strategy
		if out.Strategy != correction.None {
			resp.Text = out.Text
			resp.Mode = mode + "+" + out.Strategy.String()
		}
	}

	log.Info("pipeline: transcribed",
		"mode", resp.Mode,
		"confidence", res.Confidence,
		"chars", len([]rune(resp.Text)),
		"duration", time.Since(r.start),
	)
	return resp, nil
}

func (p *Pipeline) transcode(ctx context.Context, r *run, dir string) (data []byte, err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcode")
	start := time.Now()
	defer func() {
		p.metrics.RecordStage(ctx, observe.StageTranscode, time.Since(start).Seconds(), err)
		endSpan(span, err)
	}()

	target := p.transcriber.Input()
	span.SetAttributes(attribute.String("target", target.String()))
	return p.transcoder.Transcode(ctx, audio.Job{
		ID:      r.id,
		Data:    r.upload.Data,
		Hint:    r.upload.Filename,
		WorkDir: dir,
	}, target)
}

func (p *Pipeline) transcribe(ctx context.Context, r *run, data []byte) (res stt.Result, err error) {
	ctx, span := observe.StartSpan(ctx, "pipeline.transcribe",
		trace.WithAttributes(attribute.String("backend", p.transcriber.Name())))
	start := time.Now()
	defer func() {
		p.metrics.RecordStage(ctx, observe.StageTranscribe, time.Since(start).Seconds(), err)
		endSpan(span, err)
	}()

	res, err = p.transcriber.Transcribe(ctx, data, r.language)
	if err != nil {
		var te *types.Error
		if !errors.As(err, &te) {
			err = types.NewError(types.KindTranscriptionBackend, "pipeline: transcribe", err)
		}
		return stt.Result{}, err
	}
	span.SetAttributes(attribute.Float64("confidence", res.Confidence))
	return res, nil
}

func (p *Pipeline) correct(ctx context.Context, c Corrector, res stt.Result) correction.Outcome {
	ctx, span := observe.StartSpan(ctx, "pipeline.correct",
		trace.WithAttributes(attribute.Float64("confidence", res.Confidence)))
	defer span.End()
	start := time.Now()

	out := c.Correct(ctx, res.Text, res.Confidence)
	p.metrics.RecordStage(ctx, observe.StageCorrect, time.Since(start).Seconds(), nil)
	p.metrics.RecordCorrection(ctx, out.Strategy.String())
	span.SetAttributes(attribute.String("strategy", out.Strategy.String()))
	return out
}

func (p *Pipeline) publish(ctx context.Context, r *run, resp Response, err error) {
	ev := events.Transcription{
		ID:         r.id,
		Time:       r.start.UTC(),
		Language:   r.language,
		Filename:   r.upload.Filename,
		Bytes:      len(r.upload.Data),
		Mode:       resp.Mode,
		Text:       resp.Text,
		Confidence: r.confidence,
		DurationMS: time.Since(r.start).Milliseconds(),
	}
	if r.strategy != correction.None {
		ev.Strategy = r.strategy.String()
	}
	if err != nil {
		ev.Kind = string(types.KindOf(err))
		if ev.Kind == "" {
			ev.Kind = "internal"
		}
		ev.Error = types.ErrorMessage(err)
	}
	if perr := p.publisher.Publish(context.WithoutCancel(ctx), ev); perr != nil {
		p.log.Warn("pipeline: failed to publish event", "job_id", r.id, "err", perr)
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, fmt.Sprint(types.KindOf(err)))
	}
	span.End()
}
