package openai_test

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/provider/stt/openai"
	"github.com/MrWong99/goftar/pkg/types"
)

type captured struct {
	auth   string
	fields map[string]string
	file   []byte
	name   string
}

func newAPI(t *testing.T, status int, body string) (*httptest.Server, func() captured) {
	t.Helper()
	var (
		mu  sync.Mutex
		got captured
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/transcriptions") {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c := captured{auth: r.Header.Get("Authorization"), fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			c.file, _ = io.ReadAll(f)
			c.name = hdr.Filename
			f.Close()
		}
		mu.Lock()
		got = c
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, func() captured {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestNew_MissingCredential(t *testing.T) {
	t.Parallel()

	_, err := openai.New("")
	if types.KindOf(err) != types.KindCredentialMissing {
		t.Fatalf("kind = %q, want credential_missing", types.KindOf(err))
	}
}

func TestTranscribe_VerboseJSON(t *testing.T) {
	t.Parallel()

	srv, last := newAPI(t, http.StatusOK, `{
		"task": "transcribe",
		"language": "persian",
		"text": "سلام دنیا",
		"segments": [
			{"id": 0, "text": " سلام", "avg_logprob": -0.1},
			{"id": 1, "text": " دنیا", "avg_logprob": -0.5}
		]
	}`)

	tr, err := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0), openai.WithPrompt("Next.js, Docker"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Name() != stt.ModeOpenAI || tr.Input() != audio.CanonicalCompact {
		t.Errorf("Name/Input = %q/%v", tr.Name(), tr.Input())
	}

	res, err := tr.Transcribe(context.Background(), []byte("OggS..."), "fa-IR")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "سلام دنیا" {
		t.Errorf("Text = %q", res.Text)
	}
	if math.Abs(res.Confidence-(-0.3)) > 1e-9 {
		t.Errorf("Confidence = %v, want -0.3", res.Confidence)
	}

	got := last()
	if got.auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got.auth)
	}
	for k, want := range map[string]string{
		"model":           "whisper-1",
		"language":        "fa",
		"response_format": "verbose_json",
		"prompt":          "Next.js, Docker",
	} {
		if got.fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, got.fields[k], want)
		}
	}
	if string(got.file) != "OggS..." || got.name != "audio.ogg" {
		t.Errorf("file = %q (%s)", got.file, got.name)
	}
}

func TestTranscribe_EmptySpeech(t *testing.T) {
	t.Parallel()

	srv, _ := newAPI(t, http.StatusOK, `{"text": "", "segments": []}`)
	tr, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))

	res, err := tr.Transcribe(context.Background(), []byte("OggS"), "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "" || res.Confidence != -1.0 {
		t.Errorf("result = %+v, want empty text and -1 confidence", res)
	}
}

func TestTranscribe_BackendError(t *testing.T) {
	t.Parallel()

	srv, _ := newAPI(t, http.StatusBadRequest, `{"error": {"message": "Audio file is too short", "type": "invalid_request_error"}}`)
	tr, _ := openai.New("sk-test", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithMaxRetries(0))

	_, err := tr.Transcribe(context.Background(), []byte("OggS"), "fa")
	if types.KindOf(err) != types.KindTranscriptionBackend {
		t.Fatalf("kind = %q, want transcription_backend_error (err: %v)", types.KindOf(err), err)
	}
	if !strings.Contains(types.ErrorMessage(err), "Audio file is too short") {
		t.Errorf("message = %q, want backend message", types.ErrorMessage(err))
	}
}
