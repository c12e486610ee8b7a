package recognition

import "strings"

// View is the display form of a session transcript.
type View struct {
	Committed string `json:"committed"`
	Interim   string `json:"interim"`
}

// Transcript is the merge state of a session. It is a value type; every
// method returns the next state.
type Transcript struct {
	// History is text committed by earlier handles or a manual edit.
	History string

	// Final accumulates final fragments of the current handle.
	Final string

	// Interim is the latest provisional text. It is replaced on every event.
	Interim string
}

// Apply merges ev. Final fragments append to Final and the interim fragments
// of ev replace Interim. changed is false when ev held only blank fragments;
// sawFinal reports whether ev contained a final fragment.
func (t Transcript) Apply(ev ResultEvent) (next Transcript, sawFinal, changed bool) {
	var interim []string
	final := t.Final
	for _, f := range ev.Fragments {
		text := strings.TrimSpace(f.Text)
		if text == "" {
			continue
		}
		changed = true
		if f.Final {
			sawFinal = true
			final = joinSpace(final, text)
			continue
		}
		interim = append(interim, text)
	}
	if !changed {
		return t, false, false
	}
	t.Final = final
	t.Interim = strings.Join(interim, " ")
	return t, sawFinal, true
}

// Commit moves Final into History with whitespace collapsed and clears the
// fragments. History is left untouched when there is nothing to commit.
func (t Transcript) Commit() Transcript {
	if t.Final == "" {
		return Transcript{History: t.History}
	}
	return Transcript{History: collapse(t.History + " " + t.Final)}
}

// Edit replaces History verbatim and clears the fragments.
func (t Transcript) Edit(text string) Transcript {
	return Transcript{History: text}
}

// View returns the display text.
func (t Transcript) View() View {
	return View{Committed: joinSpace(t.History, t.Final), Interim: t.Interim}
}

func joinSpace(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
