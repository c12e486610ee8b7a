package recognition

import "testing"

func TestTranscript_Apply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		start       Transcript
		ev          ResultEvent
		want        Transcript
		wantFinal   bool
		wantChanged bool
	}{
		{
			name:        "interim only",
			ev:          ResultEvent{Fragments: []Fragment{{Text: "سل"}}},
			want:        Transcript{Interim: "سل"},
			wantChanged: true,
		},
		{
			name:        "interim is replaced, not appended",
			start:       Transcript{Interim: "سل"},
			ev:          ResultEvent{Fragments: []Fragment{{Text: "سلام"}}},
			want:        Transcript{Interim: "سلام"},
			wantChanged: true,
		},
		{
			name:        "final appends and clears interim",
			start:       Transcript{Final: "سلام", Interim: "خو"},
			ev:          ResultEvent{Fragments: []Fragment{{Text: " خوبی ", Final: true}}},
			want:        Transcript{Final: "سلام خوبی"},
			wantFinal:   true,
			wantChanged: true,
		},
		{
			name: "mixed event",
			ev: ResultEvent{Fragments: []Fragment{
				{Text: "تست", Final: true},
				{Text: "سوم"},
				{Text: "است"},
			}},
			want:        Transcript{Final: "تست", Interim: "سوم است"},
			wantFinal:   true,
			wantChanged: true,
		},
		{
			name:  "whitespace fragments are ignored",
			start: Transcript{Final: "a", Interim: "b"},
			ev:    ResultEvent{Fragments: []Fragment{{Text: "  "}, {Text: "\t", Final: true}}},
			want:  Transcript{Final: "a", Interim: "b"},
		},
		{
			name:  "empty event",
			start: Transcript{History: "h"},
			want:  Transcript{History: "h"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, sawFinal, changed := tc.start.Apply(tc.ev)
			if got != tc.want {
				t.Errorf("Apply = %+v, want %+v", got, tc.want)
			}
			if sawFinal != tc.wantFinal {
				t.Errorf("sawFinal = %v, want %v", sawFinal, tc.wantFinal)
			}
			if changed != tc.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tc.wantChanged)
			}
		})
	}
}

func TestTranscript_Commit(t *testing.T) {
	t.Parallel()

	tr := Transcript{History: "  قبلی ", Final: "تست   سوم", Interim: "x"}
	got := tr.Commit()
	if want := (Transcript{History: "قبلی تست سوم"}); got != want {
		t.Errorf("Commit = %+v, want %+v", got, want)
	}

	edited := Transcript{History: "متن  دستی "}.Commit()
	if edited.History != "متن  دستی " {
		t.Errorf("Commit without finals changed history to %q", edited.History)
	}
}

func TestTranscript_EditThenSpeech(t *testing.T) {
	t.Parallel()

	tr := Transcript{History: "old", Final: "lost?", Interim: "i"}.Edit("متن جدید")
	if tr.View() != (View{Committed: "متن جدید"}) {
		t.Fatalf("View after edit = %+v", tr.View())
	}
	tr, _, _ = tr.Apply(ResultEvent{Fragments: []Fragment{{Text: "ادامه", Final: true}}})
	if got := tr.Commit().History; got != "متن جدید ادامه" {
		t.Errorf("History = %q, want %q", got, "متن جدید ادامه")
	}
}

func TestTranscript_View(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tr   Transcript
		want View
	}{
		{Transcript{}, View{}},
		{Transcript{History: "a"}, View{Committed: "a"}},
		{Transcript{Final: "b"}, View{Committed: "b"}},
		{Transcript{History: "a", Final: "b", Interim: "c"}, View{Committed: "a b", Interim: "c"}},
	}
	for _, tc := range tests {
		if got := tc.tr.View(); got != tc.want {
			t.Errorf("%+v.View() = %+v, want %+v", tc.tr, got, tc.want)
		}
	}
}
