package stt

import (
	"context"

	"github.com/MrWong99/goftar/pkg/audio"
)

// Mode labels reported by the built-in transcribers.
const (
	ModeOffline = "server-whisper-offline"
	ModeHTTP    = "server-whisper-http"
	ModeOpenAI  = "server-openai-remote"
)

// Transcriber is a batch transcription backend.
//
// Transcribe receives audio already converted to the format reported by
// Input. Audio that decodes but holds no recognisable speech yields a Result
// with empty Text and a nil error. Failures are reported as *types.Error with
// kind ModelMissing, CredentialMissing or TranscriptionBackend.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, language string) (Result, error)

	// Input declares the canonical format the backend consumes.
	Input() audio.Canonical

	// Name is the mode label surfaced to clients.
	Name() string
}
