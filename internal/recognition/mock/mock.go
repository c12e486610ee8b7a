// Package mock provides test doubles for the recognition package: a manual
// clock and a scriptable native engine.
package mock

import (
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/goftar/internal/recognition"
)

// Clock is a manual [recognition.Clock]. Timers fire only from Advance.
type Clock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*timer
}

var _ recognition.Clock = (*Clock)(nil)

type timer struct {
	clock   *Clock
	at      time.Duration
	seq     int
	f       func()
	stopped bool
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc implements recognition.Clock.
func (c *Clock) AfterFunc(d time.Duration, f func()) recognition.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{clock: c, at: c.now + d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d and runs every timer that falls due,
// in deadline order. Callbacks run without the clock lock held and may
// schedule further timers; those fire too if they fall within d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.stopped = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func (c *Clock) nextDueLocked(target time.Duration) *timer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.Slice(live, func(i, j int) bool {
		if live[i].at != live[j].at {
			return live[i].at < live[j].at
		}
		return live[i].seq < live[j].seq
	})
	if len(live) == 0 || live[0].at > target {
		return nil
	}
	return live[0]
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Engine is a scriptable [recognition.Engine]. Every created handle is
// recorded.
type Engine struct {
	// NewHandleErr is returned by NewHandle when non-nil.
	NewHandleErr error

	// StartErr is returned by the first Start of each new handle when
	// non-nil.
	StartErr error

	// EndOnStop makes Handle.Stop deliver OnEnd synchronously, like engines
	// that report the end from inside stop.
	EndOnStop bool

	mu      sync.Mutex
	handles []*Handle
}

var _ recognition.Engine = (*Engine)(nil)

// NewHandle implements recognition.Engine.
func (e *Engine) NewHandle(cfg recognition.HandleConfig, sink recognition.Sink) (recognition.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NewHandleErr != nil {
		return nil, e.NewHandleErr
	}
	h := &Handle{Config: cfg, sink: sink, startErr: e.StartErr, endOnStop: e.EndOnStop}
	e.handles = append(e.handles, h)
	return h, nil
}

// Handles returns a snapshot of all created handles.
func (e *Engine) Handles() []*Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Handle, len(e.handles))
	copy(out, e.handles)
	return out
}

// Last returns the most recently created handle, or nil.
func (e *Engine) Last() *Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handles) == 0 {
		return nil
	}
	return e.handles[len(e.handles)-1]
}

// Started returns how many created handles are currently running.
func (e *Engine) Started() int {
	n := 0
	for _, h := range e.Handles() {
		if h.Running() {
			n++
		}
	}
	return n
}

// Handle is a scriptable [recognition.Handle].
type Handle struct {
	// Config is the configuration the handle was created with.
	Config recognition.HandleConfig

	sink      recognition.Sink
	startErr  error
	endOnStop bool

	mu         sync.Mutex
	running    bool
	startCalls int
	stopCalls  int
}

var _ recognition.Handle = (*Handle)(nil)

// Start implements recognition.Handle.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startCalls++
	if h.startErr != nil {
		err := h.startErr
		h.startErr = nil
		return err
	}
	if h.running {
		return recognition.ErrAlreadyStarted
	}
	h.running = true
	return nil
}

// Stop implements recognition.Handle.
func (h *Handle) Stop() error {
	h.mu.Lock()
	h.stopCalls++
	wasRunning := h.running
	h.running = false
	end := h.endOnStop && wasRunning
	h.mu.Unlock()
	if end {
		h.sink.OnEnd(h)
	}
	return nil
}

// Running reports whether the handle is started and not stopped.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// StartCalls returns the number of Start calls.
func (h *Handle) StartCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startCalls
}

// StopCalls returns the number of Stop calls.
func (h *Handle) StopCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopCalls
}

// EmitResult delivers a result event with the given fragments.
func (h *Handle) EmitResult(fragments ...recognition.Fragment) {
	h.sink.OnResult(h, recognition.ResultEvent{Fragments: fragments})
}

// EmitEnd marks the handle stopped and delivers OnEnd.
func (h *Handle) EmitEnd() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
	h.sink.OnEnd(h)
}

// Crash marks the handle stopped without delivering OnEnd, like an engine
// that dies silently.
func (h *Handle) Crash() {
	h.mu.Lock()
	h.running = false
	h.mu.Unlock()
}

// EmitError delivers OnError.
func (h *Handle) EmitError(err error) {
	h.sink.OnError(h, err)
}

// Final returns a final fragment.
func Final(text string) recognition.Fragment {
	return recognition.Fragment{Text: text, Final: true}
}

// Interim returns an interim fragment.
func Interim(text string) recognition.Fragment {
	return recognition.Fragment{Text: text}
}
