package terms_test

import (
	"testing"

	"github.com/MrWong99/goftar/internal/correction/terms"
)

func TestGlossary_AliasMatch(t *testing.T) {
	t.Parallel()

	g := terms.New(terms.DefaultTerms)
	hints := g.Hints("من با  نکس جی اس و داکر کار می‌کنم")

	want := map[string]string{"Next.js": "نکس جی اس", "Docker": "داکر"}
	if len(hints) != len(want) {
		t.Fatalf("got %d hints (%+v), want %d", len(hints), hints, len(want))
	}
	for _, h := range hints {
		if want[h.Canonical] != h.Heard {
			t.Errorf("hint %+v: want heard %q", h, want[h.Canonical])
		}
		if h.Method != "alias" || h.Score != 1 {
			t.Errorf("hint %+v: want alias match with score 1", h)
		}
	}
}

func TestGlossary_AliasNeedsWordBoundary(t *testing.T) {
	t.Parallel()

	g := terms.New([]terms.Term{{Canonical: "Node.js", Aliases: []string{"نود"}}})
	if hints := g.Hints("نودل خوردم"); len(hints) != 0 {
		t.Errorf("expected no hints inside a longer word, got %+v", hints)
	}
}

func TestGlossary_PhoneticMatch(t *testing.T) {
	t.Parallel()

	g := terms.New(terms.DefaultTerms)
	hints := g.Hints("امروز dokker رو نصب کردم")
	if len(hints) != 1 {
		t.Fatalf("got %d hints (%+v), want 1", len(hints), hints)
	}
	h := hints[0]
	if h.Canonical != "Docker" || h.Heard != "dokker" || h.Method != "phonetic" {
		t.Errorf("hint = %+v, want dokker -> Docker (phonetic)", h)
	}
	if h.Score < 0.7 {
		t.Errorf("score = %f, want >= 0.7", h.Score)
	}
}

func TestGlossary_CorrectSpellingYieldsNoHint(t *testing.T) {
	t.Parallel()

	g := terms.New(terms.DefaultTerms)
	if hints := g.Hints("Docker و React"); len(hints) != 0 {
		t.Errorf("expected no hints for correct spellings, got %+v", hints)
	}
}

func TestGlossary_NoMatch(t *testing.T) {
	t.Parallel()

	g := terms.New(terms.DefaultTerms)
	for _, text := range []string{"", "   ", "سلام دنیا", "hello daily"} {
		if hints := g.Hints(text); len(hints) != 0 {
			t.Errorf("Hints(%q) = %+v, want none", text, hints)
		}
	}
}

func TestGlossary_DropsEmptyCanonical(t *testing.T) {
	t.Parallel()

	g := terms.New([]terms.Term{{Canonical: " "}, {Canonical: "Go"}})
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}
	if got := g.Canonicals(); len(got) != 1 || got[0] != "Go" {
		t.Errorf("Canonicals = %v", got)
	}
}

func TestGlossary_NilIsEmpty(t *testing.T) {
	t.Parallel()

	var g *terms.Glossary
	if hints := g.Hints("dokker"); hints != nil {
		t.Errorf("nil glossary returned %+v", hints)
	}
}
