// Package health serves the liveness, readiness and ping endpoints.
//
//   - /healthz returns 200 while the process can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes.
//   - /api/ping returns {"status":"alive","time":...} for clients that poll
//     the pipeline before uploading.
//
// Readiness checks run concurrently. The response lists the outcome of each
// check by name.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/goftar/internal/resilience"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// result is the JSON body of /healthz and /readyz.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// PingResponse is the JSON body of /api/ping.
type PingResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// Option configures a [Handler].
type Option func(*Handler)

// WithNow overrides the clock used by Ping.
func WithNow(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler serves the health endpoints. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	now      func() time.Time
}

// New creates a Handler that evaluates checkers on every /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Healthz always returns 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Ping reports that the server is alive along with its current time.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, PingResponse{
		Status: "alive",
		Time:   h.now().UTC().Format(time.RFC3339),
	})
}

// Readyz returns 200 when every checker passes and 503 otherwise. Each
// checker gets its own checkTimeout derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		allOK  = true
	)

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /api/ping", h.Ping)
}

// FileChecker fails when path does not name a readable regular file. It
// guards the offline model so a missing file shows up before the first
// upload.
func FileChecker(name, path string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return fmt.Errorf("%s is not a regular file", path)
		}
		return nil
	}}
}

// BreakerChecker fails when every breaker reported by states is open, i.e.
// no backend would accept a request right now.
func BreakerChecker(name string, states func() map[string]resilience.State) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		s := states()
		if len(s) == 0 {
			return nil
		}
		var open []string
		for backend, st := range s {
			if st != resilience.StateOpen {
				return nil
			}
			open = append(open, backend)
		}
		sort.Strings(open)
		return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
	}}
}

// FuncChecker adapts a boolean test such as a connection's Healthy method.
func FuncChecker(name string, healthy func() bool) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !healthy() {
			return errors.New("not connected")
		}
		return nil
	}}
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
