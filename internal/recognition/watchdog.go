package recognition

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/MrWong99/goftar/internal/device"
)

// Watchdog periodically force-restarts recognition while the session should
// be listening. It exists for engines that can die without reporting an end.
// All methods are safe for concurrent use.
type Watchdog struct {
	clock Clock
	log   *slog.Logger

	mu    sync.Mutex
	timer Timer
	gen   uint64 // bumped by every Arm and Disarm; stale ticks compare against it
	armed bool
}

// NewWatchdog returns a disarmed Watchdog using clock. A nil clock selects
// SystemClock.
func NewWatchdog(clock Clock, log *slog.Logger) *Watchdog {
	if clock == nil {
		clock = SystemClock
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watchdog{clock: clock, log: log}
}

// Arm starts ticking every p.WatchdogInterval. It is a no-op when the
// profile does not use a watchdog. Arming an armed watchdog replaces the
// previous schedule.
func (w *Watchdog) Arm(p device.Profile, isActive func() bool, forceRestart func() error) {
	if !p.UsesWatchdog || p.WatchdogInterval <= 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.armed = true
	gen := w.gen

	var tick func()
	tick = func() {
		w.mu.Lock()
		current := w.gen == gen
		w.mu.Unlock()
		if !current {
			return
		}

		if isActive() {
			if err := forceRestart(); err != nil && !errors.Is(err, ErrAlreadyStarted) {
				w.log.Warn("recognition: watchdog restart failed", "err", err)
			}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.gen == gen {
			w.timer = w.clock.AfterFunc(p.WatchdogInterval, tick)
		}
	}
	w.timer = w.clock.AfterFunc(p.WatchdogInterval, tick)
}

// Disarm stops the watchdog. Safe to call when disarmed.
func (w *Watchdog) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	w.gen++
	w.armed = false
}

// Armed reports whether the watchdog is ticking.
func (w *Watchdog) Armed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.armed
}

func (w *Watchdog) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
