// Package whisper provides batch transcribers backed by whisper.cpp.
//
// [Offline] runs inference in-process through the whisper.cpp CGO bindings.
// The model is expensive to load, so it is loaded lazily on the first request
// and then shared read-only by every later request. Concurrent first requests
// wait on a single load instead of racing.
//
// [Server] talks to a running whisper-server binary over its REST API at
// POST /inference.
//
// Usage:
//
//	t, err := whisper.NewOffline("/models/ggml-large-v3.bin")
//	res, err := t.Transcribe(ctx, canonicalWAV, "fa")
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

const (
	defaultLanguage = "fa"

	// silenceRMS is the root-mean-square level (normalised to [0, 1]) below
	// which a whole recording is treated as silence. It corresponds to an
	// amplitude of roughly 300 in 16-bit PCM units.
	silenceRMS = 300.0 / 32768.0
)

// Model is a loaded speech model. Implementations must allow concurrent
// Transcribe calls; the whisper.cpp model satisfies this by creating a fresh
// inference context per call.
type Model interface {
	// Transcribe runs inference over 16 kHz mono samples normalised to
	// [-1, 1] and returns the recognised segments in order.
	Transcribe(ctx context.Context, samples []float32, language string) ([]types.Segment, error)

	// Close releases the model.
	Close() error
}

// Loader loads the model stored at path.
type Loader func(path string) (Model, error)

// Compile-time assertion that Offline satisfies stt.Transcriber.
var _ stt.Transcriber = (*Offline)(nil)

// OfflineOption is a functional option for [Offline].
type OfflineOption func(*Offline)

// WithLoader replaces the whisper.cpp model loader. Tests use it to inject a
// fake model.
func WithLoader(l Loader) OfflineOption {
	return func(o *Offline) { o.loader = l }
}

// WithLanguage sets the language used when a request carries none. Defaults
// to "fa".
func WithLanguage(lang string) OfflineOption {
	return func(o *Offline) { o.language = lang }
}

// Offline transcribes canonical WAV audio with an in-process model.
type Offline struct {
	path     string
	language string
	loader   Loader

	mu    sync.Mutex
	model Model
	loads int
}

// NewOffline returns an Offline transcriber for the model at modelPath. The
// model is not touched until the first Transcribe or [Offline.Warm] call.
func NewOffline(modelPath string, opts ...OfflineOption) (*Offline, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	o := &Offline{
		path:     modelPath,
		language: defaultLanguage,
		loader:   LoadModel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Name implements stt.Transcriber.
func (o *Offline) Name() string { return stt.ModeOffline }

// Input implements stt.Transcriber.
func (o *Offline) Input() audio.Canonical { return audio.CanonicalWAV }

// Warm loads the model if it is not loaded yet.
func (o *Offline) Warm() error {
	_, err := o.acquire()
	return err
}

// Loaded reports whether the model is resident.
func (o *Offline) Loaded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.model != nil
}

// Loads returns how many times the loader has run successfully. It never
// exceeds one.
func (o *Offline) Loads() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loads
}

// acquire returns the shared model, loading it under the lock on first use.
// A failed load is not cached, so a model installed later is picked up by the
// next request.
func (o *Offline) acquire() (Model, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.model != nil {
		return o.model, nil
	}

	if _, err := os.Stat(o.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, types.NewError(types.KindModelMissing, "whisper: load model",
				fmt.Errorf("model %q not found; download a ggml model and set stt.model_path", o.path))
		}
		return nil, types.NewError(types.KindModelMissing, "whisper: load model", err)
	}

	m, err := o.loader(o.path)
	if err != nil {
		return nil, types.NewError(types.KindModelMissing, "whisper: load model", err)
	}
	o.model = m
	o.loads++
	return m, nil
}

// Transcribe implements stt.Transcriber. data must be a WAV file; it is
// downmixed and resampled to 16 kHz if needed.
func (o *Offline) Transcribe(ctx context.Context, data []byte, language string) (stt.Result, error) {
	model, err := o.acquire()
	if err != nil {
		return stt.Result{}, err
	}

	pcm, err := audio.DecodeWAV(data)
	if err != nil {
		return stt.Result{}, types.TranscodeError(types.ReasonDecode, "whisper: decode input", err)
	}
	samples := pcm.Canonicalise().Float32()
	if isSilent(samples) {
		return stt.NewResult(nil), nil
	}

	if language == "" {
		language = o.language
	}
	if err := ctx.Err(); err != nil {
		return stt.Result{}, fmt.Errorf("whisper: transcribe: %w", err)
	}
	segments, err := model.Transcribe(ctx, samples, stt.BaseLanguage(language))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("whisper: transcribe: %w", ctxErr)
		}
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "whisper: transcribe", err)
	}
	return stt.NewResult(segments), nil
}

// Close releases the model if it was loaded.
func (o *Offline) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.model == nil {
		return nil
	}
	err := o.model.Close()
	o.model = nil
	return err
}

// isSilent reports whether samples carry no speech energy at all. whisper
// tends to hallucinate text on pure silence, so such input never reaches the
// model.
func isSilent(samples []float32) bool {
	if len(samples) == 0 {
		return true
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum/float64(len(samples))) < silenceRMS
}
