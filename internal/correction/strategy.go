// Package correction post-edits transcripts with a language model. How much
// the model may change depends on how confident the recogniser was: a
// near-certain transcript only gets punctuation and technical-term fixes,
// an uncertain one also gets spelling fixes, and a very poor one is left
// alone because the model would be guessing.
package correction

import "fmt"

// Confidence tier boundaries. Confidence is a mean log-probability; values
// closer to 0 are better.
const (
	ConservativeAbove = -0.25
	BalancedAbove     = -0.7
)

// Strategy is a correction tier.
type Strategy int

const (
	// None leaves the transcript unchanged.
	None Strategy = iota

	// Conservative fixes punctuation and latinises technical terms.
	Conservative

	// Balanced additionally fixes spelling and homophones while keeping the
	// speaker's casual register.
	Balanced

	// FewShot is Balanced with worked examples in the prompt.
	FewShot
)

// String returns the lower-case strategy name used in mode labels and logs.
func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case Conservative:
		return "conservative"
	case Balanced:
		return "balanced"
	case FewShot:
		return "fewshot"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStyle maps a configured balanced_style value to a Strategy. The empty
// string selects Balanced.
func ParseStyle(s string) (Strategy, error) {
	switch s {
	case "", "balanced":
		return Balanced, nil
	case "fewshot":
		return FewShot, nil
	default:
		return None, fmt.Errorf("correction: unknown balanced style %q (want balanced or fewshot)", s)
	}
}

// Select maps a transcription confidence to a tier. -0.25 belongs to
// Conservative and -0.7 to Balanced.
func Select(confidence float64) Strategy {
	switch {
	case confidence >= ConservativeAbove:
		return Conservative
	case confidence >= BalancedAbove:
		return Balanced
	default:
		return None
	}
}
