package whisper_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt/whisper"
	"github.com/MrWong99/goftar/pkg/types"
)

// fakeModel returns canned segments and records the languages it saw.
type fakeModel struct {
	mu        sync.Mutex
	segments  []types.Segment
	err       error
	languages []string
	closed    bool
}

func (m *fakeModel) Transcribe(_ context.Context, _ []float32, language string) ([]types.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.languages = append(m.languages, language)
	return m.segments, m.err
}

func (m *fakeModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.languages)
}

// modelFile creates an empty file standing in for a ggml model.
func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-test.bin")
	if err := os.WriteFile(path, []byte("ggml"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// toneWAV returns a 16 kHz mono WAV holding a 440 Hz tone well above the
// silence threshold.
func toneWAV(t *testing.T, frames int) []byte {
	t.Helper()
	samples := make([]int, frames)
	for i := range samples {
		samples[i] = int(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return wavBytes(t, samples)
}

func silentWAV(t *testing.T, frames int) []byte {
	t.Helper()
	return wavBytes(t, make([]int, frames))
}

func wavBytes(t *testing.T, samples []int) []byte {
	t.Helper()
	data, err := audio.EncodeWAV(t.TempDir(), audio.PCM{Samples: samples, SampleRate: 16000, Channels: 1, BitDepth: 16})
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func TestNewOffline_EmptyPath(t *testing.T) {
	t.Parallel()
	if _, err := whisper.NewOffline(""); err == nil {
		t.Fatal("expected error for empty model path")
	}
}

func TestOffline_ModelMissing(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32
	o, err := whisper.NewOffline(filepath.Join(t.TempDir(), "absent.bin"), whisper.WithLoader(func(string) (whisper.Model, error) {
		loads.Add(1)
		return &fakeModel{}, nil
	}))
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}

	_, err = o.Transcribe(context.Background(), toneWAV(t, 1600), "fa")
	if types.KindOf(err) != types.KindModelMissing {
		t.Fatalf("kind = %q, want %q (err: %v)", types.KindOf(err), types.KindModelMissing, err)
	}
	if loads.Load() != 0 {
		t.Error("loader must not run when the model path does not exist")
	}
}

func TestOffline_ConcurrentFirstUseLoadsOnce(t *testing.T) {
	t.Parallel()

	model := &fakeModel{segments: []types.Segment{{Text: "سلام", Confidence: -0.2}}}
	var loads atomic.Int32
	o, err := whisper.NewOffline(modelFile(t), whisper.WithLoader(func(string) (whisper.Model, error) {
		loads.Add(1)
		time.Sleep(20 * time.Millisecond)
		return model, nil
	}))
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}

	wav := toneWAV(t, 1600)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	texts := make([]string, 2)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Transcribe(context.Background(), wav, "fa-IR")
			errs[i], texts[i] = err, res.Text
		}()
	}
	wg.Wait()

	for i := range 2 {
		if errs[i] != nil {
			t.Errorf("request %d: %v", i, errs[i])
		}
		if texts[i] != "سلام" {
			t.Errorf("request %d text = %q", i, texts[i])
		}
	}
	if got := loads.Load(); got != 1 {
		t.Errorf("loader ran %d times, want 1", got)
	}
	if o.Loads() != 1 || !o.Loaded() {
		t.Errorf("Loads() = %d, Loaded() = %v", o.Loads(), o.Loaded())
	}
	if model.calls() != 2 {
		t.Errorf("model calls = %d, want 2", model.calls())
	}
	if model.languages[0] != "fa" {
		t.Errorf("language = %q, want base tag %q", model.languages[0], "fa")
	}
}

func TestOffline_FailedLoadIsRetried(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	o, err := whisper.NewOffline(modelFile(t), whisper.WithLoader(func(string) (whisper.Model, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("corrupt model")
		}
		return &fakeModel{}, nil
	}))
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}

	if err := o.Warm(); types.KindOf(err) != types.KindModelMissing {
		t.Fatalf("first Warm kind = %q, want model_missing", types.KindOf(err))
	}
	if err := o.Warm(); err != nil {
		t.Fatalf("second Warm: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
}

func TestOffline_SilenceYieldsEmptyText(t *testing.T) {
	t.Parallel()

	model := &fakeModel{segments: []types.Segment{{Text: "Thank you.", Confidence: -0.1}}}
	o, err := whisper.NewOffline(modelFile(t), whisper.WithLoader(func(string) (whisper.Model, error) { return model, nil }))
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}

	res, err := o.Transcribe(context.Background(), silentWAV(t, 16000), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" {
		t.Errorf("text = %q, want empty", res.Text)
	}
	if res.Confidence != -1.0 {
		t.Errorf("confidence = %v, want -1", res.Confidence)
	}
	if model.calls() != 0 {
		t.Errorf("model should not see silent input, got %d calls", model.calls())
	}
}

func TestOffline_Errors(t *testing.T) {
	t.Parallel()

	model := &fakeModel{err: errors.New("ggml assert")}
	o, err := whisper.NewOffline(modelFile(t), whisper.WithLoader(func(string) (whisper.Model, error) { return model, nil }))
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}

	_, err = o.Transcribe(context.Background(), []byte("not a wav"), "fa")
	if !errors.Is(err, types.TranscodeError(types.ReasonDecode, "", nil)) {
		t.Errorf("garbage input: got %v, want transcode decode error", err)
	}

	_, err = o.Transcribe(context.Background(), toneWAV(t, 1600), "fa")
	if types.KindOf(err) != types.KindTranscriptionBackend {
		t.Errorf("model failure: kind = %q, want transcription_backend_error", types.KindOf(err))
	}
	if types.ErrorMessage(err) != "ggml assert" {
		t.Errorf("message = %q, want backend message", types.ErrorMessage(err))
	}
}

func TestOffline_Close(t *testing.T) {
	t.Parallel()

	model := &fakeModel{}
	o, err := whisper.NewOffline(modelFile(t), whisper.WithLoader(func(string) (whisper.Model, error) { return model, nil }))
	if err != nil {
		t.Fatalf("NewOffline: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close before load: %v", err)
	}
	if err := o.Warm(); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !model.closed {
		t.Error("model was not closed")
	}
	if o.Loaded() {
		t.Error("Loaded() should be false after Close")
	}
}
