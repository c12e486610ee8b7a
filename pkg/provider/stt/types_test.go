package stt_test

import (
	"math"
	"testing"

	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

func TestNewResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		segments []types.Segment
		wantText string
		wantConf float64
	}{
		{
			name:     "no segments",
			wantText: "",
			wantConf: -1.0,
		},
		{
			name:     "only blank segments",
			segments: []types.Segment{{Text: "  ", Confidence: -0.1}},
			wantText: "",
			wantConf: -0.1,
		},
		{
			name: "mean of segments",
			segments: []types.Segment{
				{Text: " سلام ", Confidence: -0.2},
				{Text: "دنیا", Confidence: -0.4},
			},
			wantText: "سلام دنیا",
			wantConf: -0.3,
		},
		{
			name: "blank segments count towards confidence",
			segments: []types.Segment{
				{Text: "hello", Confidence: -0.5},
				{Text: "", Confidence: 0},
			},
			wantText: "hello",
			wantConf: -0.25,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := stt.NewResult(tc.segments)
			if got.Text != tc.wantText {
				t.Errorf("Text = %q, want %q", got.Text, tc.wantText)
			}
			if math.Abs(got.Confidence-tc.wantConf) > 1e-9 {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tc.wantConf)
			}
		})
	}
}

func TestBaseLanguage(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"fa-IR": "fa",
		"en_US": "en",
		"FA":    "fa",
		"":      "",
		" de ":  "de",
	} {
		if got := stt.BaseLanguage(in); got != want {
			t.Errorf("BaseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
