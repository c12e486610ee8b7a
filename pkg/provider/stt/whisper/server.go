package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

// Compile-time assertion that Server satisfies stt.Transcriber.
var _ stt.Transcriber = (*Server)(nil)

// ServerOption is a functional option for [Server].
type ServerOption func(*Server)

// WithModel sets the model identifier forwarded to the whisper.cpp server.
// When empty the server uses whichever model it was started with.
func WithModel(model string) ServerOption {
	return func(s *Server) { s.model = model }
}

// WithHTTPClient replaces the HTTP client. The default has a 60 s timeout.
func WithHTTPClient(c *http.Client) ServerOption {
	return func(s *Server) { s.httpClient = c }
}

// WithServerLanguage sets the language used when a request carries none.
func WithServerLanguage(lang string) ServerOption {
	return func(s *Server) { s.language = lang }
}

// Server transcribes canonical WAV audio with a whisper.cpp HTTP server.
type Server struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// NewServer returns a Server for the whisper-server at serverURL (for example
// "http://localhost:8080").
func NewServer(serverURL string, opts ...ServerOption) (*Server, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	s := &Server{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Name implements stt.Transcriber.
func (s *Server) Name() string { return stt.ModeHTTP }

// Input implements stt.Transcriber.
func (s *Server) Input() audio.Canonical { return audio.CanonicalWAV }

// verboseResponse is the verbose_json body returned by whisper-server.
type verboseResponse struct {
	Text     string `json:"text"`
	Error    string `json:"error"`
	Segments []struct {
		Text       string   `json:"text"`
		AvgLogprob *float64 `json:"avg_logprob"`
		Words      []struct {
			Probability float64 `json:"probability"`
		} `json:"words"`
	} `json:"segments"`
}

// Transcribe implements stt.Transcriber.
func (s *Server) Transcribe(ctx context.Context, data []byte, language string) (stt.Result, error) {
	if language == "" {
		language = s.language
	}

	body, contentType, err := s.form(data, stt.BaseLanguage(language))
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverURL+"/inference", body)
	if err != nil {
		return stt.Result{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stt.Result{}, fmt.Errorf("whisper: transcribe: %w", ctxErr)
		}
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "whisper: http request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "whisper: read response", err)
	}

	var out verboseResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "whisper: inference",
			fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, msg))
	}
	if decodeErr != nil {
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "whisper: parse response", decodeErr)
	}
	if out.Error != "" {
		return stt.Result{}, types.NewError(types.KindTranscriptionBackend, "whisper: inference", errors.New(out.Error))
	}

	if len(out.Segments) == 0 {
		// Older servers ignore verbose_json and only return text.
		r := stt.NewResult(nil)
		r.Text = strings.TrimSpace(out.Text)
		return r, nil
	}

	segments := make([]types.Segment, 0, len(out.Segments))
	for _, seg := range out.Segments {
		conf := -1.0
		switch {
		case seg.AvgLogprob != nil:
			conf = *seg.AvgLogprob
		case len(seg.Words) > 0:
			var sum float64
			for _, w := range seg.Words {
				sum += math.Log(math.Max(w.Probability, 1e-6))
			}
			conf = sum / float64(len(seg.Words))
		}
		segments = append(segments, types.Segment{Text: seg.Text, Confidence: conf})
	}
	return stt.NewResult(segments), nil
}

// form encodes the multipart body expected by /inference.
func (s *Server) form(data []byte, language string) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", "0.0"},
	}
	if language != "" {
		fields = append(fields, [2]string{"language", language})
	}
	if s.model != "" {
		fields = append(fields, [2]string{"model", s.model})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}
