package recognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/goftar/internal/device"
	"github.com/MrWong99/goftar/pkg/types"
)

// State is the observable controller state.
type State int

const (
	// Idle means no recognition is wanted.
	Idle State = iota

	// Listening means a handle is active.
	Listening

	// Ended means the last handle ended and a restart is pending.
	Ended
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const defaultLanguage = "fa-IR"

// stallTicks is how many consecutive watchdog ticks a running handle may go
// without delivering results before it is replaced.
const stallTicks = 5

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithClock sets the clock used for restart delays and the watchdog.
func WithClock(c Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLanguage sets the recognition language tag. Default: "fa-IR".
func WithLanguage(tag string) Option {
	return func(ctl *Controller) { ctl.language = tag }
}

// WithViewHandler registers fn to receive every transcript view change. fn
// is called without internal locks held and may call back into the
// controller.
func WithViewHandler(fn func(View)) Option {
	return func(ctl *Controller) { ctl.onView = fn }
}

// WithErrorHandler registers fn to receive surfaced errors. Transient engine
// errors never reach it.
func WithErrorHandler(fn func(error)) Option {
	return func(ctl *Controller) { ctl.errHandler = fn }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// Controller is the recognition session state machine:
//
//	Idle → Listening → (Ended ↔ Listening via auto-restart) → Idle
//
// Every handler is serialised on one mutex. External code (engine handles
// and callbacks) is never invoked with the mutex held, so Stop and
// EditManually are safe to call from inside callbacks. Each handle is bound
// to a generation number; events from older generations are dropped.
type Controller struct {
	engine   Engine
	profile  device.Profile
	clock    Clock
	language string
	onView     func(View)
	errHandler func(error)
	log        *slog.Logger
	watchdog   *Watchdog

	mu         sync.Mutex
	intended   State
	state      State
	handle     Handle
	gen        uint64
	restart    Timer
	spawning   bool
	quietTicks int // watchdog ticks since the handle last delivered results
	handles    int // handles created, for diagnostics
	transcript Transcript
}

// NewController returns an idle Controller. A nil engine makes Start report
// Unsupported.
func NewController(engine Engine, profile device.Profile, opts ...Option) *Controller {
	c := &Controller{
		engine:   engine,
		profile:  profile,
		clock:    SystemClock,
		language: defaultLanguage,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	c.watchdog = NewWatchdog(c.clock, c.log)
	return c
}

// Start begins listening. Calling Start while listening is a no-op. It
// returns a PermissionDenied error when microphone access is refused and an
// Unsupported error when no engine exists.
func (c *Controller) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("recognition: start: %w", err)
	}
	if c.engine == nil {
		return types.NewError(types.KindUnsupported, "recognition: start",
			errors.New("no recognition engine available"))
	}

	c.mu.Lock()
	if c.intended == Listening {
		c.mu.Unlock()
		return nil
	}
	c.intended = Listening
	c.mu.Unlock()

	if err := c.spawn(); err != nil {
		c.mu.Lock()
		c.intended = Idle
		c.state = Idle
		c.mu.Unlock()
		c.watchdog.Disarm()
		if classify(err) == errPermission {
			return types.NewError(types.KindPermissionDenied, "recognition: start", err)
		}
		return fmt.Errorf("recognition: start: %w", err)
	}

	c.watchdog.Arm(c.profile, c.Listening, c.forceRestart)
	return nil
}

// spawn creates and starts a new handle for a fresh generation. It returns
// nil without creating a handle when the session stopped, a handle is
// already live or another spawn is in flight. A spawn overtaken by Stop and
// a new Start retries on behalf of that Start.
func (c *Controller) spawn() error {
	for {
		c.mu.Lock()
		if c.intended != Listening || c.spawning || c.handle != nil {
			c.mu.Unlock()
			return nil
		}
		c.spawning = true
		c.gen++
		gen := c.gen
		c.mu.Unlock()

		cfg := HandleConfig{Continuous: c.profile.Continuous, InterimResults: true, Language: c.language}
		h, err := c.engine.NewHandle(cfg, &boundSink{c: c, gen: gen})
		if err == nil {
			err = h.Start()
			if errors.Is(err, ErrAlreadyStarted) {
				err = nil
			}
		}

		c.mu.Lock()
		c.spawning = false
		if c.gen != gen || c.intended != Listening {
			// Stopped while starting. A Start that arrived meanwhile found
			// this spawn in flight and relies on it.
			retry := c.intended == Listening && c.handle == nil && c.restart == nil
			c.mu.Unlock()
			if err == nil {
				c.stopHandle(h)
			}
			if retry {
				continue
			}
			return nil
		}
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.handle = h
		c.handles++
		c.quietTicks = 0
		c.state = Listening
		c.mu.Unlock()
		return nil
	}
}

// forceRestart is the watchdog action. It re-starts the current handle,
// which is a no-op on a live one, and replaces a handle that is dead or has
// been silent for stallTicks ticks. A session left without a handle gets a
// new one. While a restart is already scheduled it does nothing, so the
// watchdog and the end path never race to two handles.
func (c *Controller) forceRestart() error {
	c.mu.Lock()
	if c.intended != Listening || c.spawning || c.restart != nil {
		c.mu.Unlock()
		return nil
	}
	h := c.handle
	if h == nil {
		c.mu.Unlock()
		if err := c.spawn(); err != nil {
			c.restartFailed(err, "watchdog")
		}
		return nil
	}
	c.quietTicks++
	stalled := c.quietTicks >= stallTicks
	c.mu.Unlock()

	err := h.Start()
	switch {
	case err == nil:
		c.mu.Lock()
		c.quietTicks = 0
		c.mu.Unlock()
		return nil
	case errors.Is(err, ErrAlreadyStarted) && !stalled:
		return nil
	}
	c.log.Info("recognition: replacing unresponsive handle", "err", err)
	c.replace(h)
	return nil
}

// replace retires h and spawns its successor immediately. Events h delivers
// afterwards belong to a stale generation.
func (c *Controller) replace(h Handle) {
	c.mu.Lock()
	if c.handle != h || c.intended != Listening {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.handle = nil
	c.state = Ended
	c.transcript = c.transcript.Commit()
	view := c.transcript.View()
	c.mu.Unlock()

	c.stopHandle(h)
	c.publish(view)
	if err := c.spawn(); err != nil {
		c.restartFailed(err, "watchdog")
	}
}

// Stop ends the session: the handle is stopped, pending text is committed,
// and the watchdog and any scheduled restart are cancelled. Stop is
// idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.intended == Idle && c.handle == nil && c.restart == nil {
		c.mu.Unlock()
		return
	}
	h := c.shutdownLocked()
	view := c.transcript.View()
	c.mu.Unlock()

	c.watchdog.Disarm()
	if h != nil {
		c.stopHandle(h)
	}
	c.publish(view)
}

// shutdownLocked moves to Idle, commits pending text and invalidates the
// current generation. It returns the handle to stop.
func (c *Controller) shutdownLocked() Handle {
	c.intended = Idle
	c.state = Idle
	c.gen++
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
	h := c.handle
	c.handle = nil
	c.transcript = c.transcript.Commit()
	return h
}

// EditManually replaces the committed text verbatim. Speech recognised
// afterwards is appended after text.
func (c *Controller) EditManually(text string) {
	c.mu.Lock()
	c.transcript = c.transcript.Edit(text)
	view := c.transcript.View()
	c.mu.Unlock()
	c.publish(view)
}

// View returns the current display text.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.View()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listening reports whether the session intends to listen.
func (c *Controller) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intended == Listening
}

// HandlesCreated returns how many handles have been started.
func (c *Controller) HandlesCreated() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles
}

func (c *Controller) onResult(gen uint64, ev ResultEvent) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.quietTicks = 0
	next, sawFinal, changed := c.transcript.Apply(ev)
	if !changed {
		c.mu.Unlock()
		return
	}
	c.transcript = next
	view := next.View()
	h := c.handle
	c.mu.Unlock()

	c.publish(view)
	// A final marks an utterance boundary; ending the handle now is faster
	// than waiting for the engine's own timeout.
	if sawFinal && h != nil {
		c.stopHandle(h)
	}
}

func (c *Controller) onEnd(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.handle = nil
	if c.intended != Listening {
		c.state = Idle
		c.mu.Unlock()
		return
	}

	c.transcript = c.transcript.Commit()
	c.state = Ended
	view := c.transcript.View()
	if c.restart != nil {
		c.restart.Stop()
	}
	c.restart = c.clock.AfterFunc(c.profile.RestartDelay, func() { c.restartAfterEnd(gen) })
	c.mu.Unlock()

	c.publish(view)
}

// restartAfterEnd spawns the replacement for the handle of generation gen.
// The intended state and generation are checked when the timer fires, not
// when it was scheduled.
func (c *Controller) restartAfterEnd(gen uint64) {
	c.mu.Lock()
	if c.intended != Listening || c.gen != gen || c.state != Ended {
		c.mu.Unlock()
		return
	}
	c.restart = nil
	c.mu.Unlock()

	if err := c.spawn(); err != nil {
		c.restartFailed(err, "restart")
	}
}

// restartFailed handles a replacement handle that could not be started.
// Transient failures retry after the restart delay. Anything else ends the
// session, so it never reports listening without a handle.
func (c *Controller) restartFailed(err error, source string) {
	switch classify(err) {
	case errTransient:
		c.mu.Lock()
		if c.intended == Listening && c.handle == nil && c.restart == nil {
			gen := c.gen
			c.state = Ended
			c.restart = c.clock.AfterFunc(c.profile.RestartDelay, func() { c.restartAfterEnd(gen) })
		}
		c.mu.Unlock()
		c.log.Debug("recognition: transient restart failure", "source", source, "err", err)
	case errPermission:
		c.abort(types.NewError(types.KindPermissionDenied, "recognition: "+source, err))
	default:
		c.log.Warn("recognition: restart failed, session stopped", "source", source, "err", err)
		c.abort(fmt.Errorf("recognition: %s: %w", source, err))
	}
}

// abort moves the session to Idle and surfaces err.
func (c *Controller) abort(err error) {
	c.mu.Lock()
	h := c.shutdownLocked()
	view := c.transcript.View()
	c.mu.Unlock()

	c.watchdog.Disarm()
	if h != nil {
		c.stopHandle(h)
	}
	c.publish(view)
	c.surface(err)
}

func (c *Controller) onError(gen uint64, err error) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.handleError(err, "engine")
}

// handleError swallows transient errors, ends the session on permission
// errors and surfaces everything else.
func (c *Controller) handleError(err error, source string) {
	switch classify(err) {
	case errTransient:
		c.log.Debug("recognition: transient engine error", "source", source, "err", err)
		return
	case errPermission:
		c.abort(types.NewError(types.KindPermissionDenied, "recognition: "+source, err))
	default:
		c.log.Warn("recognition: engine error", "source", source, "err", err)
		c.surface(fmt.Errorf("recognition: %s: %w", source, err))
	}
}

func (c *Controller) stopHandle(h Handle) {
	if err := h.Stop(); err != nil {
		c.log.Debug("recognition: stop handle", "err", err)
	}
}

func (c *Controller) publish(v View) {
	if c.onView != nil {
		c.onView(v)
	}
}

func (c *Controller) surface(err error) {
	if c.errHandler != nil {
		c.errHandler(err)
	}
}

// boundSink routes a handle's events to the controller tagged with the
// generation the handle was created for.
type boundSink struct {
	c   *Controller
	gen uint64
}

func (s *boundSink) OnResult(_ Handle, ev ResultEvent) { s.c.onResult(s.gen, ev) }
func (s *boundSink) OnEnd(Handle)                      { s.c.onEnd(s.gen) }
func (s *boundSink) OnError(_ Handle, err error)       { s.c.onError(s.gen, err) }
