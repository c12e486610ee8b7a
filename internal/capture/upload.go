package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Result is a successful transcription response.
type Result struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

// StatusError is a non-2xx response from the transcription endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("capture: upload: HTTP %d: %s", e.StatusCode, e.Message)
}

// UploadOption configures an [Uploader].
type UploadOption func(*Uploader)

// WithHTTPClient sets the client used for uploads.
func WithHTTPClient(c *http.Client) UploadOption {
	return func(u *Uploader) { u.client = c }
}

// WithUploadLanguage sets the language form field. Default: "fa".
func WithUploadLanguage(lang string) UploadOption {
	return func(u *Uploader) { u.language = lang }
}

// Uploader posts recordings to the /api/stt endpoint as a multipart "audio"
// field.
type Uploader struct {
	endpoint string
	language string
	client   *http.Client
}

// NewUploader returns an Uploader for the server at baseURL.
func NewUploader(baseURL string, opts ...UploadOption) (*Uploader, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("capture: server URL must not be empty")
	}
	u := &Uploader{
		endpoint: baseURL + "/api/stt",
		language: "fa",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(u)
	}
	return u, nil
}

// Upload sends blob and decodes the response.
func (u *Uploader) Upload(ctx context.Context, blob Blob) (Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("audio", filenameFor(blob.MIMEType))
	if err != nil {
		return Result{}, fmt.Errorf("capture: build upload: %w", err)
	}
	if _, err := fw.Write(blob.Data); err != nil {
		return Result{}, fmt.Errorf("capture: build upload: %w", err)
	}
	if u.language != "" {
		if err := mw.WriteField("language", u.language); err != nil {
			return Result{}, fmt.Errorf("capture: build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return Result{}, fmt.Errorf("capture: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return Result{}, fmt.Errorf("capture: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("capture: upload: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("capture: read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	var out Result
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("capture: decode response: %w", err)
	}
	return out, nil
}

// filenameFor picks an upload filename whose extension hints the container.
// Unknown types get no extension so the server sniffs the content.
func filenameFor(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "recording.wav"
	case "audio/ogg", "audio/opus":
		return "recording.ogg"
	case "audio/webm":
		return "recording.webm"
	case "audio/mp4", "audio/m4a", "audio/aac":
		return "recording.m4a"
	case "audio/mpeg":
		return "recording.mp3"
	case "audio/flac":
		return "recording.flac"
	default:
		return "recording"
	}
}
