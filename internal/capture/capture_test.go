package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/goftar/pkg/types"
)

// fakeTrack ends its stream's pipe when stopped.
type fakeTrack struct {
	mu      sync.Mutex
	w       *io.PipeWriter
	stopped int
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped++
	return t.w.Close()
}

func (t *fakeTrack) stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	*io.PipeReader
	tracks []Track
	closed bool
}

func (s *fakeStream) Tracks() []Track  { return s.tracks }
func (s *fakeStream) MIMEType() string { return "audio/webm" }
func (s *fakeStream) Close() error {
	s.closed = true
	return s.PipeReader.Close()
}

// fakeDevice hands out pipe-backed streams. Writes to w appear as audio.
type fakeDevice struct {
	openErr error

	mu     sync.Mutex
	w      *io.PipeWriter
	track  *fakeTrack
	stream *fakeStream
	opens  int
}

func (d *fakeDevice) Open(context.Context) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	r, w := io.Pipe()
	d.w = w
	d.track = &fakeTrack{w: w}
	// A second, silent track: every track must be stopped.
	_, w2 := io.Pipe()
	d.stream = &fakeStream{PipeReader: r, tracks: []Track{d.track, &fakeTrack{w: w2}}}
	return d.stream, nil
}

func (d *fakeDevice) write(t *testing.T, b []byte) {
	t.Helper()
	d.mu.Lock()
	w := d.w
	d.mu.Unlock()
	if _, err := w.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestRecorder_RecordAndStop(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	r := NewRecorder(dev, WithChunkSize(4))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	chunks := r.Chunks()
	if chunks == nil || !r.Active() {
		t.Fatal("recorder should be active")
	}

	dev.write(t, []byte("abcd"))
	select {
	case c := <-chunks:
		if string(c) != "abcd" {
			t.Errorf("chunk = %q", c)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk observed")
	}
	dev.write(t, []byte("efgh"))

	blob, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if string(blob.Data) != "abcdefgh" {
		t.Errorf("Data = %q, want abcdefgh", blob.Data)
	}
	if blob.MIMEType != "audio/webm" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
	for i, tr := range dev.stream.tracks {
		if tr.(*fakeTrack).stops() != 1 {
			t.Errorf("track %d not stopped", i)
		}
	}
	if !dev.stream.closed {
		t.Error("stream not closed")
	}
	if r.Active() || r.Chunks() != nil {
		t.Error("recorder still active after Stop")
	}
	// Chunks delivered after the observed one may still be queued.
	timeout := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-chunks:
		case <-timeout:
			t.Fatal("chunk channel should be closed")
		}
	}
}

func TestRecorder_SecondStartIsRejected(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{}
	r := NewRecorder(dev)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(context.Background()); !errors.Is(err, ErrCaptureActive) {
		t.Errorf("second Start = %v, want ErrCaptureActive", err)
	}
	if dev.opens != 1 {
		t.Errorf("device opened %d times", dev.opens)
	}

	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
	_, _ = r.Stop()
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	t.Parallel()

	if _, err := NewRecorder(&fakeDevice{}).Stop(); !errors.Is(err, ErrNotCapturing) {
		t.Errorf("Stop = %v, want ErrNotCapturing", err)
	}
}

func TestRecorder_StartErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		device  Device
		want    types.Kind
		wantErr bool
	}{
		{name: "no device", device: nil, want: types.KindUnsupported},
		{name: "permission", device: &fakeDevice{openErr: ErrPermission}, want: types.KindPermissionDenied},
		{name: "typed permission", device: &fakeDevice{openErr: types.NewError(types.KindPermissionDenied, "browser", errors.New("NotAllowedError"))}, want: types.KindPermissionDenied},
		{name: "other", device: &fakeDevice{openErr: errors.New("busy")}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewRecorder(tc.device)
			err := r.Start(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != "" && types.KindOf(err) != tc.want {
				t.Errorf("kind = %q, want %q", types.KindOf(err), tc.want)
			}
			if r.Active() {
				t.Error("recorder active after failed start")
			}
		})
	}
}

func TestExecDevice_ParsesCommand(t *testing.T) {
	t.Parallel()

	d, err := NewExecDevice(`arecord -D "hw:1,0" -f S16_LE`)
	if err != nil {
		t.Fatalf("NewExecDevice: %v", err)
	}
	want := []string{"arecord", "-D", "hw:1,0", "-f", "S16_LE"}
	got := d.Args()
	if len(got) != len(want) {
		t.Fatalf("Args = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Args[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	def, _ := NewExecDevice("")
	if def.Args()[0] != "arecord" {
		t.Errorf("default command = %q", def.Args())
	}
	if _, err := NewExecDevice(`arecord "unterminated`); err == nil {
		t.Error("expected parse error")
	}
}

func TestExecDevice_MissingBinaryIsUnsupported(t *testing.T) {
	t.Parallel()

	d, _ := NewExecDevice("goftar-no-such-recorder -q")
	_, err := d.Open(context.Background())
	if types.KindOf(err) != types.KindUnsupported {
		t.Errorf("kind = %q, want unsupported (err=%v)", types.KindOf(err), err)
	}
}

func TestExecDevice_RecordsStdout(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("printf"); err != nil {
		t.Skip("printf not available")
	}
	d, err := NewExecDevice(`printf 'RIFF-audio'`, WithMIMEType("audio/wav"))
	if err != nil {
		t.Fatalf("NewExecDevice: %v", err)
	}
	r := NewRecorder(d)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		chunks := r.Chunks()
		if chunks == nil {
			break
		}
		select {
		case _, ok := <-chunks:
			if !ok {
				chunks = nil
			}
		case <-time.After(50 * time.Millisecond):
		}
		if chunks == nil || time.Now().After(deadline) {
			break
		}
	}

	blob, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !bytes.Equal(blob.Data, []byte("RIFF-audio")) {
		t.Errorf("Data = %q", blob.Data)
	}
	if blob.MIMEType != "audio/wav" {
		t.Errorf("MIMEType = %q", blob.MIMEType)
	}
}
