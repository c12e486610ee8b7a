package stt

import (
	"strings"

	"github.com/MrWong99/goftar/pkg/types"
)

// NoSegmentsConfidence is the confidence reported for a result without any
// segments, for example silent input.
const NoSegmentsConfidence = -1.0

// Result is the output of a batch transcription.
type Result struct {
	// Text is the space-joined text of all non-empty segments.
	Text string

	// Confidence is the arithmetic mean of the segment confidences, or
	// [NoSegmentsConfidence] when Segments is empty.
	Confidence float64

	// Segments holds the recognised spans in order.
	Segments []types.Segment

	// Mode names the backend that produced the result when it differs from
	// the transcriber's Name, as with failover groups. Empty otherwise.
	Mode string
}

// NewResult builds a Result from segments. Confidence is the mean over all
// segments, blank ones included, since the backend scored them too. Text
// joins the trimmed non-empty segment texts.
func NewResult(segments []types.Segment) Result {
	kept := make([]types.Segment, 0, len(segments))
	parts := make([]string, 0, len(segments))
	var sum float64
	for _, s := range segments {
		s.Text = strings.TrimSpace(s.Text)
		kept = append(kept, s)
		sum += s.Confidence
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}

	r := Result{Text: strings.Join(parts, " "), Confidence: NoSegmentsConfidence, Segments: kept}
	if len(kept) > 0 {
		r.Confidence = sum / float64(len(kept))
	}
	return r
}

// KeywordBoost is a vocabulary hint for streaming providers that support
// keyword boosting.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g. "Kubernetes").
	Keyword string

	// Boost is the intensity of the boost (provider-specific scale).
	Boost float64
}

// BaseLanguage reduces a BCP-47 tag to its primary subtag ("fa-IR" → "fa").
// Batch engines such as whisper accept only the ISO-639-1 code.
func BaseLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
