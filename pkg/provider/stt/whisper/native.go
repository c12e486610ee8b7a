// This file contains the whisper.cpp CGO model. The whisper.cpp static
// library (libwhisper.a) and headers (whisper.h) must be available at link
// time via LIBRARY_PATH and C_INCLUDE_PATH.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/goftar/pkg/types"
)

// cppModel adapts a whisper.cpp model to [Model].
type cppModel struct {
	model whisperlib.Model
}

var _ Model = (*cppModel)(nil)

// LoadModel loads a ggml whisper model from path with the CGO bindings. It is
// the default [Loader] of [Offline].
func LoadModel(path string) (Model, error) {
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", path, err)
	}
	slog.Info("whisper model loaded", "path", path, "multilingual", m.IsMultilingual())
	return &cppModel{model: m}, nil
}

// Transcribe runs inference with a fresh context. Contexts are not safe for
// concurrent use, but the model behind them is.
func (m *cppModel) Transcribe(ctx context.Context, samples []float32, language string) ([]types.Segment, error) {
	wctx, err := m.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	if language != "" {
		if err := wctx.SetLanguage(language); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segments []types.Segment
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		segments = append(segments, types.Segment{
			Text:       strings.TrimSpace(seg.Text),
			Confidence: meanLogProb(seg.Tokens),
		})
	}
	return segments, nil
}

// Close releases the model.
func (m *cppModel) Close() error { return m.model.Close() }

// meanLogProb averages the natural log of the probabilities of the text
// tokens of a segment. Special tokens such as "[_BEG_]" and "<|fa|>" are
// skipped.
func meanLogProb(tokens []whisperlib.Token) float64 {
	var (
		sum float64
		n   int
	)
	for _, t := range tokens {
		if t.P <= 0 || strings.HasPrefix(t.Text, "[_") || strings.HasPrefix(t.Text, "<|") {
			continue
		}
		sum += math.Log(float64(t.P))
		n++
	}
	if n == 0 {
		return -1.0
	}
	return sum / float64(n)
}
