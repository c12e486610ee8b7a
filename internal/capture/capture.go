// Package capture records raw microphone audio for devices whose native
// recognition is missing or unreliable. A [Recorder] buffers everything a
// [Device] delivers until Stop, releases every hardware track and returns a
// single [Blob] that an [Uploader] sends to the transcription endpoint.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/MrWong99/goftar/pkg/types"
)

const defaultChunkSize = 3200 // 100 ms of 16 kHz mono s16

var (
	// ErrCaptureActive is returned by Start while a capture is running.
	ErrCaptureActive = errors.New("capture: a capture is already active")

	// ErrNotCapturing is returned by Stop when nothing is being captured.
	ErrNotCapturing = errors.New("capture: no active capture")

	// ErrPermission is reported by devices when microphone access is refused.
	ErrPermission = errors.New("capture: microphone access denied")
)

// Track is one underlying hardware source of a stream. Stopping it releases
// the device.
type Track interface {
	Stop() error
}

// Stream is an open capture. Read returns audio bytes until every track has
// stopped, then io.EOF. Close releases the stream after reading finished.
type Stream interface {
	io.ReadCloser

	// Tracks returns the hardware tracks feeding the stream.
	Tracks() []Track

	// MIMEType describes the container of the bytes read.
	MIMEType() string
}

// Device opens capture streams.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Blob is a finished recording.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Option configures a [Recorder].
type Option func(*Recorder)

// WithChunkSize sets the read size used to split the stream into chunks.
func WithChunkSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// Recorder captures from one device. At most one capture is active at a
// time. All methods are safe for concurrent use.
type Recorder struct {
	device    Device
	chunkSize int
	log       *slog.Logger

	mu     sync.Mutex
	active *recording
}

// NewRecorder returns a Recorder for device.
func NewRecorder(device Device, opts ...Option) *Recorder {
	r := &Recorder{device: device, chunkSize: defaultChunkSize, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// recording is the state of one capture.
type recording struct {
	stream Stream
	chunks chan []byte
	done   chan struct{}

	mu      sync.Mutex
	buf     bytes.Buffer
	readErr error
}

// Start opens the device and begins buffering. It returns ErrCaptureActive
// when a capture is already running, a PermissionDenied error when access
// to the microphone is refused, and an Unsupported error when no device is
// configured.
func (r *Recorder) Start(ctx context.Context) error {
	if r.device == nil {
		return types.NewError(types.KindUnsupported, "capture: start", errors.New("no capture device configured"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return ErrCaptureActive
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		if isPermission(err) {
			return types.NewError(types.KindPermissionDenied, "capture: start", err)
		}
		return fmt.Errorf("capture: open device: %w", err)
	}

	rec := &recording{
		stream: stream,
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	r.active = rec
	go r.readLoop(rec)
	return nil
}

// Active reports whether a capture is running.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Chunks returns the chunk channel of the running capture, or nil. The
// channel is closed when the capture ends. Observers that fall behind miss
// chunks; the recording itself is never lossy.
func (r *Recorder) Chunks() <-chan []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	return r.active.chunks
}

// Stop ends the capture, stops every track and returns the concatenated
// audio. Track and close failures are logged; a read failure is returned
// together with the audio buffered before it.
func (r *Recorder) Stop() (Blob, error) {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()
	if rec == nil {
		return Blob{}, ErrNotCapturing
	}

	var stopErrs []error
	for _, t := range rec.stream.Tracks() {
		if err := t.Stop(); err != nil {
			stopErrs = append(stopErrs, err)
		}
	}
	if err := errors.Join(stopErrs...); err != nil {
		r.log.Warn("capture: stop tracks", "err", err)
	}

	<-rec.done
	if err := rec.stream.Close(); err != nil {
		r.log.Debug("capture: close stream", "err", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	blob := Blob{Data: bytes.Clone(rec.buf.Bytes()), MIMEType: rec.stream.MIMEType()}
	if rec.readErr != nil {
		return blob, fmt.Errorf("capture: read: %w", rec.readErr)
	}
	return blob, nil
}

func (r *Recorder) readLoop(rec *recording) {
	defer close(rec.done)
	defer close(rec.chunks)

	for {
		buf := make([]byte, r.chunkSize)
		n, err := rec.stream.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			rec.mu.Lock()
			rec.buf.Write(chunk)
			rec.mu.Unlock()
			select {
			case rec.chunks <- chunk:
			default:
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				rec.mu.Lock()
				rec.readErr = err
				rec.mu.Unlock()
			}
			return
		}
	}
}

func isPermission(err error) bool {
	return errors.Is(err, ErrPermission) ||
		errors.Is(err, os.ErrPermission) ||
		types.KindOf(err) == types.KindPermissionDenied
}
