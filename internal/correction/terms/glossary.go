// Package terms detects technical vocabulary in Persian transcripts so the
// correction prompt can name the intended Latin spelling.
//
// Two detectors run over the text:
//
//  1. Alias matching: each [Term] lists Persian spellings a recogniser
//     commonly emits (e.g. "نکست جی اس" for "Next.js"). Aliases are matched
//     exactly on whitespace-normalised text.
//
//  2. Phonetic matching: romanised tokens are compared to the canonical
//     spellings using Double Metaphone codes, ranked by Jaro-Winkler
//     similarity. This catches "dokker" or "kubernetis".
//
// A Glossary is read-only after construction and safe for concurrent use.
package terms

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.88
)

// Term is one technical term with the spellings a recogniser produces for it.
type Term struct {
	// Canonical is the correct Latin spelling, e.g. "Next.js".
	Canonical string `yaml:"canonical"`

	// Aliases are Persian-script renderings of the spoken term.
	Aliases []string `yaml:"aliases"`
}

// Hint is a detected occurrence of a glossary term.
type Hint struct {
	// Heard is the span as it appears in the transcript.
	Heard string

	// Canonical is the intended spelling.
	Canonical string

	// Score is 1 for alias matches and the Jaro-Winkler similarity for
	// phonetic matches.
	Score float64

	// Method is "alias" or "phonetic".
	Method string
}

// DefaultTerms is the built-in vocabulary for Persian developer speech.
var DefaultTerms = []Term{
	{Canonical: "Next.js", Aliases: []string{"نکست جی اس", "نکس جی اس", "نکست جی‌اس", "نکست"}},
	{Canonical: "React", Aliases: []string{"ری اکت", "ریاکت", "ری‌اکت"}},
	{Canonical: "Docker", Aliases: []string{"داکر", "دوکر"}},
	{Canonical: "Kubernetes", Aliases: []string{"کوبرنتیز", "کوبرنیتیز", "کوبرنتیس"}},
	{Canonical: "JavaScript", Aliases: []string{"جاوا اسکریپت", "جاوااسکریپت"}},
	{Canonical: "TypeScript", Aliases: []string{"تایپ اسکریپت", "تایپ‌اسکریپت"}},
	{Canonical: "Python", Aliases: []string{"پایتون"}},
	{Canonical: "GitHub", Aliases: []string{"گیت هاب", "گیت‌هاب", "گیتهاب"}},
	{Canonical: "API", Aliases: []string{"ای پی آی", "ای‌پی‌آی"}},
	{Canonical: "Node.js", Aliases: []string{"نود جی اس", "نود"}},
}

// Option is a functional option for configuring a [Glossary].
type Option func(*Glossary)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a candidate
// whose Double Metaphone codes overlap. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(g *Glossary) { g.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// without phonetic overlap. Default: 0.88.
func WithFuzzyThreshold(threshold float64) Option {
	return func(g *Glossary) { g.fuzzyThreshold = threshold }
}

// Glossary matches transcript text against a set of terms.
type Glossary struct {
	terms             []Term
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Glossary over terms. Terms with an empty canonical spelling
// are dropped.
func New(terms []Term, opts ...Option) *Glossary {
	g := &Glossary{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, t := range terms {
		if strings.TrimSpace(t.Canonical) == "" {
			continue
		}
		g.terms = append(g.terms, t)
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Len returns the number of terms.
func (g *Glossary) Len() int { return len(g.terms) }

// Canonicals returns the canonical spellings in glossary order.
func (g *Glossary) Canonicals() []string {
	out := make([]string, len(g.terms))
	for i, t := range g.terms {
		out[i] = t.Canonical
	}
	return out
}

// Hints returns at most one hint per term found in text, in glossary order
// for alias matches followed by phonetic matches in token order.
func (g *Glossary) Hints(text string) []Hint {
	if g == nil || len(g.terms) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	normalised := " " + strings.Join(strings.Fields(text), " ") + " "

	var hints []Hint
	seen := make(map[string]bool)
	for _, t := range g.terms {
		for _, alias := range t.Aliases {
			a := strings.Join(strings.Fields(alias), " ")
			if a == "" || !strings.Contains(normalised, " "+a+" ") {
				continue
			}
			hints = append(hints, Hint{Heard: a, Canonical: t.Canonical, Score: 1, Method: "alias"})
			seen[t.Canonical] = true
			break
		}
	}

	canonicals := g.Canonicals()
	for _, tok := range strings.Fields(text) {
		word := strings.TrimFunc(tok, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if !isLatin(word) {
			continue
		}
		canonical, score, ok := g.match(word, canonicals)
		if !ok || seen[canonical] {
			continue
		}
		// Already spelled correctly.
		if word == canonical {
			seen[canonical] = true
			continue
		}
		hints = append(hints, Hint{Heard: word, Canonical: canonical, Score: score, Method: "phonetic"})
		seen[canonical] = true
	}
	return hints
}

// match finds the canonical spelling most phonetically similar to word.
func (g *Glossary) match(word string, canonicals []string) (string, float64, bool) {
	wordLower := strings.ToLower(word)
	inputCodes := codesFor(wordLower)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range canonicals {
		// Punctuation such as the dot in "Next.js" is not pronounced.
		cLower := strings.ToLower(strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return r
			}
			return -1
		}, c))
		if cLower == "" {
			continue
		}
		score := matchr.JaroWinkler(wordLower, cLower, false)
		if codesOverlap(inputCodes, codesFor(cLower)) {
			if score >= g.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = c, score, true
			}
		} else if !bestPhonetic && score >= g.fuzzyThreshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore, best != ""
}

// codesFor returns the Double Metaphone codes of word, excluding empty codes.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// isLatin reports whether word has at least three letters, all of them in
// the Latin script.
func isLatin(word string) bool {
	n := 0
	for _, r := range word {
		if unicode.IsLetter(r) {
			if !unicode.Is(unicode.Latin, r) {
				return false
			}
			n++
		}
	}
	return n >= 3
}
