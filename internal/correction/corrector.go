package correction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/goftar/internal/correction/terms"
	"github.com/MrWong99/goftar/pkg/provider/llm"
	"github.com/MrWong99/goftar/pkg/types"
)

const defaultTemperature = 0.1

const responseFormat = `

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{"corrected_text": "<full corrected transcript>"}

If nothing needs fixing, return the input unchanged in corrected_text.`

const conservativePrompt = `You are an editor for Persian speech-to-text transcripts.

The recogniser was confident, so change as little as possible.

Rules:
- Fix punctuation only: add Persian punctuation (، ؟ .) where sentences end or pause.
- Write technical terms, product names and programming vocabulary in their Latin spelling (for example "ری اکت" becomes "React").
- Do NOT change any other word, its spelling, the word order or the tone.
- Keep casual and colloquial forms exactly as spoken (e.g. "میخوام", "اینو").` + responseFormat

const balancedPrompt = `You are an editor for Persian speech-to-text transcripts.

The recogniser was unsure about parts of this transcript.

Rules:
- Fix punctuation using Persian punctuation (، ؟ .).
- Write technical terms, product names and programming vocabulary in their Latin spelling.
- Fix obvious spelling mistakes and homophone confusions (e.g. "خواستن" / "خاستن") from context.
- Keep the speaker's casual register; do NOT rewrite into formal written Persian.
- Do NOT add, remove or reorder ideas. If unsure about a word, leave it.` + responseFormat

const fewShotExamples = `

Examples:

Input: سلام من دیروز با نکست جی اس یه پروژه ساختم ولی دیپلوی نشد
Output: {"corrected_text": "سلام، من دیروز با Next.js یه پروژه ساختم ولی deploy نشد."}

Input: میخواستم بپرسم داکر رو چجوری روی سرور نسب کنم
Output: {"corrected_text": "می‌خواستم بپرسم Docker رو چجوری روی سرور نصب کنم؟"}

Input: این فانکشن خطا میده چون ورودیش نال هستش
Output: {"corrected_text": "این function خطا می‌ده چون ورودیش null هستش."}`

// Outcome is the result of a correction attempt.
type Outcome struct {
	// Text is the corrected text, or the raw text when Strategy is None.
	Text string

	// Strategy is the tier that actually produced Text.
	Strategy Strategy
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the LLM sampling temperature. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) { c.temperature = temp }
}

// WithBalancedStyle selects the prompt used for the middle tier: Balanced
// or FewShot.
func WithBalancedStyle(s Strategy) Option {
	return func(c *Corrector) { c.balancedStyle = s }
}

// WithGlossary adds technical-term hints to every prompt.
func WithGlossary(g *terms.Glossary) Option {
	return func(c *Corrector) { c.glossary = g }
}

// WithCompare makes Correct evaluate every tier concurrently and log the
// results. The selected tier's outcome is still the one returned.
func WithCompare(enabled bool) Option {
	return func(c *Corrector) { c.compare = enabled }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Corrector) { c.log = l }
}

// Corrector applies tiered LLM correction to transcripts. It is safe for
// concurrent use.
type Corrector struct {
	llm           llm.Provider
	temperature   float64
	balancedStyle Strategy
	glossary      *terms.Glossary
	compare       bool
	log           *slog.Logger
}

// New returns a Corrector backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:           provider,
		temperature:   defaultTemperature,
		balancedStyle: Balanced,
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Tier selects the strategy for confidence, honouring the configured
// balanced style.
func (c *Corrector) Tier(confidence float64) Strategy {
	s := Select(confidence)
	if s == Balanced {
		return c.balancedStyle
	}
	return s
}

// Correct selects a tier for confidence and applies it. In comparison mode
// every tier is evaluated and logged first.
func (c *Corrector) Correct(ctx context.Context, text string, confidence float64) Outcome {
	tier := c.Tier(confidence)
	if c.compare {
		return c.compareAll(ctx, text, tier)
	}
	return c.Apply(ctx, text, tier)
}

// Apply runs the correction model with the prompt for tier. It never fails:
// on any backend problem the raw text is returned with Strategy None.
func (c *Corrector) Apply(ctx context.Context, text string, tier Strategy) Outcome {
	raw := Outcome{Text: text, Strategy: None}
	if tier == None || strings.TrimSpace(text) == "" {
		return raw
	}
	if c.llm == nil {
		return raw
	}

	prompt, err := c.systemPrompt(tier, text)
	if err != nil {
		c.logFailure(tier, err)
		return raw
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: prompt,
		Temperature:  c.temperature,
		Messages:     []types.Message{{Role: "user", Content: text}},
	})
	if err != nil {
		c.logFailure(tier, err)
		return raw
	}
	if resp == nil {
		c.logFailure(tier, errors.New("empty response"))
		return raw
	}

	corrected, err := parseResponse(resp.Content)
	if err != nil {
		c.logFailure(tier, err)
		return raw
	}
	if corrected == "" {
		return raw
	}
	return Outcome{Text: corrected, Strategy: tier}
}

func (c *Corrector) logFailure(tier Strategy, err error) {
	wrapped := types.NewError(types.KindCorrectionBackend, "correction: apply "+tier.String(), err)
	c.log.Warn("correction: falling back to raw transcript",
		"strategy", tier.String(),
		"kind", string(types.KindCorrectionBackend),
		"err", wrapped,
	)
}

// systemPrompt builds the instruction set for tier, including glossary hints
// found in text.
func (c *Corrector) systemPrompt(tier Strategy, text string) (string, error) {
	var base string
	switch tier {
	case Conservative:
		base = conservativePrompt
	case Balanced:
		base = balancedPrompt
	case FewShot:
		base = balancedPrompt + fewShotExamples
	default:
		return "", fmt.Errorf("no prompt for strategy %s", tier)
	}

	hints := c.glossary.Hints(text)
	if len(hints) == 0 {
		return base, nil
	}
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n\nTechnical terms detected in this transcript (heard → intended spelling):\n")
	for _, h := range hints {
		fmt.Fprintf(&sb, "- %s → %s\n", h.Heard, h.Canonical)
	}
	return sb.String(), nil
}

// llmResponse is the expected JSON structure returned by the LLM.
type llmResponse struct {
	CorrectedText string `json:"corrected_text"`
}

// parseResponse extracts the corrected text from the model output.
func parseResponse(content string) (string, error) {
	var r llmResponse
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return strings.TrimSpace(r.CorrectedText), nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
