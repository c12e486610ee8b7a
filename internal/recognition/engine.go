// Package recognition keeps a continuous speech recognition session alive on
// top of a native recognition engine that ends after silence, after short
// utterances or without warning.
//
// The [Controller] owns at most one native [Handle] at a time. It merges
// interim and final fragments into a growing transcript, commits finals
// whenever a handle ends, and starts a fresh handle after the device
// profile's restart delay. A [Watchdog] covers engines that die without an
// end event. [StreamEngine] adapts any streaming stt.Provider into an
// [Engine] so the controller can run server-side.
package recognition

import (
	"errors"

	"github.com/MrWong99/goftar/pkg/types"
)

// Errors reported by engines.
var (
	// ErrAlreadyStarted is returned by Handle.Start on a running handle.
	ErrAlreadyStarted = errors.New("recognition: handle already started")

	// ErrNoSpeech means the engine heard nothing before its silence timeout.
	ErrNoSpeech = errors.New("recognition: no speech detected")

	// ErrAborted means the engine aborted the utterance, usually because it
	// was stopped.
	ErrAborted = errors.New("recognition: aborted")

	// ErrNetwork is a transient transport failure inside the engine.
	ErrNetwork = errors.New("recognition: network error")

	// ErrNotAllowed means microphone access was refused.
	ErrNotAllowed = errors.New("recognition: microphone access not allowed")
)

// HandleConfig configures a native handle.
type HandleConfig struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

// Fragment is one recognised segment.
type Fragment struct {
	Text  string
	Final bool
}

// ResultEvent is one batch of fragments delivered by a handle.
type ResultEvent struct {
	Fragments []Fragment
}

// Sink receives handle events. Implementations must tolerate events from
// handles they no longer consider current.
type Sink interface {
	OnResult(h Handle, ev ResultEvent)
	OnEnd(h Handle)
	OnError(h Handle, err error)
}

// Handle is one native recognition session.
type Handle interface {
	// Start begins recognition. It returns ErrAlreadyStarted when the handle
	// is running.
	Start() error

	// Stop ends recognition. The handle reports OnEnd once it has stopped.
	Stop() error
}

// Engine creates native handles.
type Engine interface {
	NewHandle(cfg HandleConfig, sink Sink) (Handle, error)
}

// errorClass groups engine errors by how the controller reacts to them.
type errorClass int

const (
	errTransient errorClass = iota
	errPermission
	errOther
)

func classify(err error) errorClass {
	switch {
	case errors.Is(err, ErrNoSpeech), errors.Is(err, ErrAborted), errors.Is(err, ErrNetwork):
		return errTransient
	case errors.Is(err, ErrNotAllowed), types.KindOf(err) == types.KindPermissionDenied:
		return errPermission
	default:
		return errOther
	}
}
