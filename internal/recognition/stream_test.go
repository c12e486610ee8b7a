package recognition_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/goftar/internal/recognition"
	"github.com/MrWong99/goftar/internal/recognition/mock"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	sttmock "github.com/MrWong99/goftar/pkg/provider/stt/mock"
	"github.com/MrWong99/goftar/pkg/types"
)

// eventSink records handle events.
type eventSink struct {
	mu      sync.Mutex
	results []recognition.ResultEvent
	ended   chan struct{}
}

func newEventSink() *eventSink { return &eventSink{ended: make(chan struct{})} }

func (s *eventSink) OnResult(_ recognition.Handle, ev recognition.ResultEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, ev)
}

func (s *eventSink) OnEnd(recognition.Handle) { close(s.ended) }

func (s *eventSink) OnError(recognition.Handle, error) {}

func (s *eventSink) snapshot() []recognition.ResultEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recognition.ResultEvent(nil), s.results...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStreamEngine_HandleLifecycle(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{}
	eng := recognition.NewStreamEngine(provider,
		recognition.WithStreamConfig(stt.StreamConfig{SampleRate: 48000, Channels: 1, Language: "en"}))
	sink := newEventSink()

	h, err := eng.NewHandle(recognition.HandleConfig{Continuous: true, InterimResults: true, Language: "fa-IR"}, sink)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if err := eng.SendAudio([]byte{1, 2}); err == nil {
		t.Error("SendAudio before Start should fail")
	}
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Start(); !errors.Is(err, recognition.ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	if n := provider.StartStreamCallCount(); n != 1 {
		t.Fatalf("StartStream calls = %d, want 1", n)
	}
	cfg := provider.StartStreamCalls[0].Cfg
	if cfg.Language != "fa-IR" || cfg.SampleRate != 48000 {
		t.Errorf("stream config = %+v", cfg)
	}

	sess := provider.SessionAt(0)
	if err := eng.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if sess.SendAudioCallCount() != 1 {
		t.Error("audio not forwarded to the session")
	}

	sess.PartialsCh <- types.Transcript{Text: "تس"}
	waitFor(t, "interim", func() bool { return len(sink.snapshot()) == 1 })
	sess.FinalsCh <- types.Transcript{Text: "تست سوم", IsFinal: true}
	waitFor(t, "final", func() bool { return len(sink.snapshot()) == 2 })

	got := sink.snapshot()
	if f := got[0].Fragments[0]; f.Text != "تس" || f.Final {
		t.Errorf("interim fragment = %+v", f)
	}
	if f := got[1].Fragments[0]; f.Text != "تست سوم" || !f.Final {
		t.Errorf("final fragment = %+v", f)
	}
	if sess.Closed() != 0 {
		t.Error("continuous handle closed after a final")
	}

	if err := h.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-sink.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEnd not delivered after Stop")
	}
	if err := h.Start(); err == nil || errors.Is(err, recognition.ErrAlreadyStarted) {
		t.Errorf("Start after end = %v, want a dead-handle error", err)
	}
	if err := eng.SendAudio([]byte{0}); err == nil {
		t.Error("SendAudio after Stop should fail")
	}
}

func TestStreamEngine_SingleShotClosesAfterFinal(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{}
	eng := recognition.NewStreamEngine(provider)
	sink := newEventSink()
	h, _ := eng.NewHandle(recognition.HandleConfig{InterimResults: true}, sink)
	if err := h.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	provider.SessionAt(0).FinalsCh <- types.Transcript{Text: "یک", IsFinal: true}
	select {
	case <-sink.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("single-shot handle did not end after its final")
	}
}

func TestStreamEngine_Errors(t *testing.T) {
	t.Parallel()

	_, err := recognition.NewStreamEngine(nil).NewHandle(recognition.HandleConfig{}, newEventSink())
	if types.KindOf(err) != types.KindUnsupported {
		t.Errorf("nil provider kind = %q, want unsupported", types.KindOf(err))
	}

	provider := &sttmock.Provider{StartStreamErr: errors.New("dial failed")}
	h, _ := recognition.NewStreamEngine(provider).NewHandle(recognition.HandleConfig{}, newEventSink())
	if err := h.Start(); err == nil {
		t.Error("expected Start to fail")
	}
}

func TestStreamEngine_DrivesController(t *testing.T) {
	t.Parallel()

	provider := &sttmock.Provider{}
	clock := &mock.Clock{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := recognition.NewStreamEngine(provider, recognition.WithBaseContext(ctx))
	c := recognition.NewController(eng, android, recognition.WithClock(clock))
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	provider.SessionAt(0).FinalsCh <- types.Transcript{Text: "سلام دنیا", IsFinal: true}
	waitFor(t, "handle end", func() bool { return c.State() == recognition.Ended })

	clock.Advance(android.RestartDelay)
	if n := provider.StartStreamCallCount(); n != 2 {
		t.Fatalf("StartStream calls = %d, want 2", n)
	}
	if got := c.View().Committed; got != "سلام دنیا" {
		t.Errorf("committed = %q", got)
	}
}
