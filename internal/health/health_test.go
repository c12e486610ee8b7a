package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/goftar/internal/resilience"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()

	h := New(nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 3, 21, 8, 30, 0, 0, time.FixedZone("IRST", 12600))
	h := New(nil, WithNow(func() time.Time { return fixed }))

	rec := httptest.NewRecorder()
	h.Ping(rec, httptest.NewRequest("GET", "/api/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "alive" {
		t.Errorf("status = %q, want alive", body.Status)
	}
	if body.Time != "2026-03-21T05:00:00Z" {
		t.Errorf("time = %q", body.Time)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	pass := func(context.Context) error { return nil }
	fail := func(msg string) func(context.Context) error {
		return func(context.Context) error { return errors.New(msg) }
	}

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantBody   string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantStatus: http.StatusOK,
			wantBody:   "ok",
		},
		{
			name: "all pass",
			checkers: []Checker{
				{Name: "model", Check: pass},
				{Name: "transcriber", Check: pass},
			},
			wantStatus: http.StatusOK,
			wantBody:   "ok",
			wantChecks: map[string]string{"model": "ok", "transcriber": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "model", Check: fail("no such file")},
				{Name: "transcriber", Check: pass},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"model": "fail: no such file", "transcriber": "ok"},
		},
		{
			name: "all fail",
			checkers: []Checker{
				{Name: "model", Check: fail("timeout")},
				{Name: "events", Check: fail("not connected")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "fail",
			wantChecks: map[string]string{"model": "fail: timeout", "events": "fail: not connected"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := New(tc.checkers)
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			body := decode(t, rec)
			if body.Status != tc.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantBody)
			}
			for name, want := range tc.wantChecks {
				if got := body.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestReadyz_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	h := New([]Checker{{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRegister_RoutesWork(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New([]Checker{{Name: "test", Check: func(context.Context) error { return nil }}}).Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/api/ping"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("POST", "/api/ping", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/ping status = %d, want 405", rec.Code)
	}
}

func TestFileChecker(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.bin")
	if err := os.WriteFile(model, []byte("weights"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := FileChecker("model", model).Check(ctx); err != nil {
		t.Errorf("existing file: %v", err)
	}
	if err := FileChecker("model", filepath.Join(dir, "missing.bin")).Check(ctx); err == nil {
		t.Error("missing file: expected error")
	}
	if err := FileChecker("model", dir).Check(ctx); err == nil {
		t.Error("directory: expected error")
	}
}

func TestBreakerChecker(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		states  map[string]resilience.State
		wantErr string
	}{
		{name: "none"},
		{name: "all closed", states: map[string]resilience.State{"a": resilience.StateClosed, "b": resilience.StateClosed}},
		{name: "one open", states: map[string]resilience.State{"a": resilience.StateOpen, "b": resilience.StateHalfOpen}},
		{
			name:    "all open",
			states:  map[string]resilience.State{"b": resilience.StateOpen, "a": resilience.StateOpen},
			wantErr: "all circuits open: a, b",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := BreakerChecker("transcriber", func() map[string]resilience.State { return tc.states })
			err := c.Check(context.Background())
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestFuncChecker(t *testing.T) {
	t.Parallel()

	if err := FuncChecker("events", func() bool { return true }).Check(context.Background()); err != nil {
		t.Errorf("healthy: %v", err)
	}
	if err := FuncChecker("events", func() bool { return false }).Check(context.Background()); err == nil {
		t.Error("unhealthy: expected error")
	}
}
