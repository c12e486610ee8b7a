// Package stt defines the speech-to-text abstractions used by Goftar.
//
// Two shapes of backend exist. A [Transcriber] is a batch engine: it receives
// one complete canonical recording and returns a [Result] with per-segment
// confidences. It powers the upload pipeline. A streaming [Provider] accepts
// raw PCM audio frames and emits partial and final [types.Transcript] values;
// it drives the live recognition session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/goftar/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// streaming session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000 (STT
	// optimised mono), 48000 (browser capture).
	SampleRate int

	// Channels is the number of interleaved audio channels. 1 = mono.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g. "fa-IR",
	// "en-US"). An empty string lets the provider pick its default.
	Language string

	// Keywords is a list of vocabulary hints that increase the recognition
	// probability of technical terms.
	Keywords []KeywordBoost
}

// SessionHandle represents an open streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw 16-bit little-endian PCM. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials emits interim transcripts. Interim text is a provisional guess
	// and is replaced by the next partial or final. The channel is closed when
	// the session ends.
	Partials() <-chan types.Transcript

	// Finals emits committed transcripts that will not be revised. The channel
	// is closed when the session ends.
	Finals() <-chan types.Transcript

	// Close terminates the session, flushes pending audio and closes the
	// Partials and Finals channels. Calling Close more than once is safe.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a new streaming session. The returned SessionHandle is
	// ready to accept audio immediately. The caller owns the handle and must
	// call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
