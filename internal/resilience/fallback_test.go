package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	fg := testGroup()

	var called []string
	err := fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 1 || called[0] != "primary" {
		t.Fatalf("called = %v, want [primary]", called)
	}
}

func TestExecuteNamed_Failover(t *testing.T) {
	fg := testGroup()

	got, name, err := ExecuteNamed(fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return "from-" + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "from-secondary" || name != "secondary" {
		t.Fatalf("got %q from %q, want from-secondary from secondary", got, name)
	}
}

func TestExecuteWithResult_AllFailKeepsLastError(t *testing.T) {
	fg := testGroup()
	last := errors.New("secondary exploded")

	_, err := ExecuteWithResult(fg, func(v string) (int, error) {
		if v == "secondary" {
			return 0, last
		}
		return 0, errTest
	})
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, last) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping the last error", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := testGroup()

	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if s := fg.BreakerStates()["primary"]; s != StateOpen {
		t.Fatalf("primary breaker = %v, want open", s)
	}

	var called []string
	_ = fg.Execute(func(v string) error {
		called = append(called, v)
		return nil
	})
	if len(called) != 1 || called[0] != "secondary" {
		t.Fatalf("called = %v, want [secondary]", called)
	}
}

func TestFallbackGroup_NonFailureStopsFailover(t *testing.T) {
	fg := testGroup()

	var called []string
	err := fg.Execute(func(v string) error {
		called = append(called, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(called) != 1 {
		t.Errorf("called = %v, want only the primary", called)
	}
}

func TestFallbackGroup_Accessors(t *testing.T) {
	fg := testGroup()
	if fg.Len() != 2 || fg.Primary() != "primary" {
		t.Errorf("Len = %d Primary = %q", fg.Len(), fg.Primary())
	}
	states := fg.BreakerStates()
	if len(states) != 2 || states["secondary"] != StateClosed {
		t.Errorf("BreakerStates = %v", states)
	}
}
