// Package events publishes transcription outcomes to a message bus so that
// other services can follow what the server recognised without polling it.
//
// Every finished pipeline run produces one [Transcription] event on
// "<prefix>.completed" or "<prefix>.failed". Publishing is fire-and-forget:
// a bus outage is logged and never fails a request.
package events

import (
	"context"
	"time"
)

// DefaultSubjectPrefix is the subject namespace used when none is
// configured.
const DefaultSubjectPrefix = "goftar.transcriptions"

// Transcription describes one finished pipeline run.
type Transcription struct {
	ID         string    `json:"id"`
	Time       time.Time `json:"time"`
	Language   string    `json:"language,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Bytes      int       `json:"bytes"`
	Mode       string    `json:"mode,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence"`
	DurationMS int64     `json:"duration_ms"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Failed reports whether the event describes a failed run.
func (t Transcription) Failed() bool { return t.Error != "" || t.Kind != "" }

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Transcription) error
}

// Nop discards every event.
type Nop struct{}

var _ Publisher = Nop{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Transcription) error { return nil }
