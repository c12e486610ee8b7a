package types_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/goftar/pkg/types"
)

func TestError_IsMatchesKind(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("pipeline: %w", types.TranscodeError(types.ReasonDecode, "ffmpeg", errors.New("invalid data")))

	if !errors.Is(err, &types.Error{Kind: types.KindTranscode}) {
		t.Error("expected match on kind alone")
	}
	if !errors.Is(err, &types.Error{Kind: types.KindTranscode, Reason: types.ReasonDecode}) {
		t.Error("expected match on kind and reason")
	}
	if errors.Is(err, &types.Error{Kind: types.KindTranscode, Reason: types.ReasonWrite}) {
		t.Error("unexpected match on different reason")
	}
	if errors.Is(err, &types.Error{Kind: types.KindModelMissing}) {
		t.Error("unexpected match on different kind")
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want types.Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ""},
		{"direct", types.NewError(types.KindCredentialMissing, "openai", nil), types.KindCredentialMissing},
		{"wrapped", fmt.Errorf("outer: %w", types.NewError(types.KindModelMissing, "whisper", nil)), types.KindModelMissing},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := types.KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	inner := errors.New("rate limit exceeded")
	err := types.NewError(types.KindTranscriptionBackend, "openai: transcribe", inner)

	if got := err.Error(); got != "openai: transcribe: transcription_backend_error: rate limit exceeded" {
		t.Errorf("Error() = %q", got)
	}
	if got := types.ErrorMessage(err); got != "rate limit exceeded" {
		t.Errorf("ErrorMessage() = %q, want backend message", got)
	}

	te := types.TranscodeError(types.ReasonWrite, "", nil)
	if got := te.Error(); got != "transcode_error (write)" {
		t.Errorf("Error() = %q", got)
	}
}
