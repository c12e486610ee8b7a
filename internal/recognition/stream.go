package recognition

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

// errNoActiveHandle is returned by SendAudio while no handle is running.
var errNoActiveHandle = errors.New("recognition: no active handle")

// errStreamEnded is returned by Start on a handle whose session has ended.
var errStreamEnded = errors.New("recognition: stream ended")

// StreamOption configures a [StreamEngine].
type StreamOption func(*StreamEngine)

// WithBaseContext sets the context streams are opened with. Cancelling it
// ends every open stream. Default: context.Background().
func WithBaseContext(ctx context.Context) StreamOption {
	return func(e *StreamEngine) { e.ctx = ctx }
}

// WithStreamConfig sets the audio format and keyword hints of every stream.
// The handle's language overrides cfg.Language when set.
func WithStreamConfig(cfg stt.StreamConfig) StreamOption {
	return func(e *StreamEngine) { e.cfg = cfg }
}

// StreamEngine is an [Engine] backed by a streaming [stt.Provider]. Each
// handle owns one provider session. Audio pushed through SendAudio goes to
// the handle that is currently running.
type StreamEngine struct {
	provider stt.Provider
	ctx      context.Context
	cfg      stt.StreamConfig

	mu     sync.Mutex
	active *streamHandle
}

var _ Engine = (*StreamEngine)(nil)

// NewStreamEngine returns an engine that opens sessions on provider.
func NewStreamEngine(provider stt.Provider, opts ...StreamOption) *StreamEngine {
	e := &StreamEngine{
		provider: provider,
		ctx:      context.Background(),
		cfg:      stt.StreamConfig{SampleRate: 16000, Channels: 1},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewHandle implements Engine.
func (e *StreamEngine) NewHandle(cfg HandleConfig, sink Sink) (Handle, error) {
	if e.provider == nil {
		return nil, types.NewError(types.KindUnsupported, "recognition: new handle",
			errors.New("no streaming provider configured"))
	}
	sc := e.cfg
	if cfg.Language != "" {
		sc.Language = cfg.Language
	}
	return &streamHandle{engine: e, cfg: cfg, stream: sc, sink: sink}, nil
}

// SendAudio forwards a PCM chunk to the running handle. Chunks that arrive
// between handles are dropped with an error.
func (e *StreamEngine) SendAudio(chunk []byte) error {
	e.mu.Lock()
	h := e.active
	e.mu.Unlock()
	if h == nil {
		return errNoActiveHandle
	}
	return h.send(chunk)
}

func (e *StreamEngine) setActive(h *streamHandle) {
	e.mu.Lock()
	e.active = h
	e.mu.Unlock()
}

func (e *StreamEngine) clearActive(h *streamHandle) {
	e.mu.Lock()
	if e.active == h {
		e.active = nil
	}
	e.mu.Unlock()
}

// streamHandle is a single provider session. A handle starts at most once.
type streamHandle struct {
	engine *StreamEngine
	cfg    HandleConfig
	stream stt.StreamConfig
	sink   Sink

	mu      sync.Mutex
	started bool
	ended   bool
	session stt.SessionHandle
	closing sync.Once
}

func (h *streamHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return errStreamEnded
	}
	if h.started {
		return ErrAlreadyStarted
	}
	sess, err := h.engine.provider.StartStream(h.engine.ctx, h.stream)
	if err != nil {
		return fmt.Errorf("recognition: open stream: %w", err)
	}
	h.started = true
	h.session = sess
	h.engine.setActive(h)
	go h.pump(sess)
	return nil
}

// Stop closes the session in the background. OnEnd follows once the
// provider has flushed its last results.
func (h *streamHandle) Stop() error {
	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()
	if sess == nil {
		return nil
	}
	h.closeSession(sess)
	return nil
}

func (h *streamHandle) closeSession(sess stt.SessionHandle) {
	h.closing.Do(func() {
		h.engine.clearActive(h)
		go func() { _ = sess.Close() }()
	})
}

func (h *streamHandle) send(chunk []byte) error {
	h.mu.Lock()
	sess := h.session
	h.mu.Unlock()
	if sess == nil {
		return errNoActiveHandle
	}
	return sess.SendAudio(chunk)
}

// pump translates provider transcripts into result events until both
// channels are closed. In non-continuous mode the session is closed after
// its first final.
func (h *streamHandle) pump(sess stt.SessionHandle) {
	partials, finals := sess.Partials(), sess.Finals()
	for partials != nil || finals != nil {
		select {
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if h.cfg.InterimResults {
				h.sink.OnResult(h, ResultEvent{Fragments: []Fragment{{Text: t.Text}}})
			}
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			h.sink.OnResult(h, ResultEvent{Fragments: []Fragment{{Text: t.Text, Final: true}}})
			if !h.cfg.Continuous {
				h.closeSession(sess)
			}
		}
	}
	h.mu.Lock()
	h.ended = true
	h.mu.Unlock()
	h.engine.clearActive(h)
	h.sink.OnEnd(h)
}
