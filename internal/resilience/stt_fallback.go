package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

// TranscriberFailure is the failure predicate for batch transcribers.
// Undecodable audio fails on every backend, so it neither trips a breaker
// nor triggers failover.
func TranscriberFailure(err error) bool {
	switch types.KindOf(err) {
	case types.KindTranscode, types.KindInvalidInput:
		return false
	}
	return BackendFailure(err)
}

// TranscriberFallback is an [stt.Transcriber] that fails over across
// backends sharing one input format. The result's Mode names the backend
// that served it.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a fallback with primary as the preferred
// backend. A nil IsFailure in cfg selects [TranscriberFailure].
func NewTranscriberFallback(primary stt.Transcriber, cfg FallbackConfig) *TranscriberFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = TranscriberFailure
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primary.Name(), cfg)}
}

// AddFallback registers t after the existing backends. Backends consume the
// audio the primary was transcoded for, so t must share its input format.
func (f *TranscriberFallback) AddFallback(t stt.Transcriber) error {
	if want := f.group.Primary().Input(); t.Input() != want {
		return fmt.Errorf("resilience: %s consumes %s audio, want %s", t.Name(), t.Input(), want)
	}
	f.group.AddFallback(t.Name(), t)
	return nil
}

// Transcribe implements stt.Transcriber.
func (f *TranscriberFallback) Transcribe(ctx context.Context, data []byte, language string) (stt.Result, error) {
	res, name, err := ExecuteNamed(f.group, func(t stt.Transcriber) (stt.Result, error) {
		return t.Transcribe(ctx, data, language)
	})
	if err != nil {
		return stt.Result{}, err
	}
	if res.Mode == "" {
		res.Mode = name
	}
	return res, nil
}

// Input implements stt.Transcriber.
func (f *TranscriberFallback) Input() audio.Canonical { return f.group.Primary().Input() }

// Name implements stt.Transcriber. It names the primary backend.
func (f *TranscriberFallback) Name() string { return f.group.Primary().Name() }

// BreakerStates reports each backend's breaker state.
func (f *TranscriberFallback) BreakerStates() map[string]State { return f.group.BreakerStates() }

// StreamFallback is an [stt.Provider] that opens streams on the first
// healthy backend. Failover covers opening only; an established stream is
// not migrated.
type StreamFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*StreamFallback)(nil)

// NewStreamFallback creates a fallback with primary as the preferred backend.
func NewStreamFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *StreamFallback {
	return &StreamFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional streaming backend.
func (f *StreamFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// StartStream implements stt.Provider.
func (f *StreamFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
