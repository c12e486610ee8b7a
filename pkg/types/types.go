// Package types defines the shared types used across all Goftar packages.
//
// These types form the lingua franca between the transcription backends, the
// correction stage, the recognition controller, and the HTTP surface. Each
// package defines its own domain types; cross-cutting data structures live
// here to avoid circular imports.
package types

import "time"

// Transcript represents a speech-to-text result from a streaming provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript. Final transcripts are never revised.
	IsFinal bool

	// Confidence is the provider-reported confidence. May be zero if the
	// provider does not report one.
	Confidence float64

	// Timestamp marks when the utterance started, relative to session start.
	Timestamp time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// Segment is one recognised span of a batch transcription.
type Segment struct {
	// Text is the segment text with surrounding whitespace removed.
	Text string

	// Confidence is a log-probability-like score in [-Inf, 0]. Values near 0
	// indicate high confidence.
	Confidence float64
}

// Message is a single turn sent to a language model.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text of the message.
	Content string
}
