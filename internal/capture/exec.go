package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/MrWong99/goftar/pkg/types"
)

// DefaultExecCommand records 16 kHz mono WAV from the default ALSA device.
const DefaultExecCommand = "arecord -q -f S16_LE -r 16000 -c 1 -t wav"

// killGrace is how long a capture process may take to exit after an
// interrupt before it is killed.
const killGrace = 2 * time.Second

// ExecOption configures an [ExecDevice].
type ExecOption func(*ExecDevice)

// WithMIMEType sets the MIME type of the command's output. Default:
// "audio/wav".
func WithMIMEType(mime string) ExecOption {
	return func(d *ExecDevice) { d.mime = mime }
}

// ExecDevice captures audio by running a recorder command and reading its
// standard output. The process is the stream's only track: stopping the
// track interrupts the process, which releases the microphone.
type ExecDevice struct {
	args []string
	mime string
}

var _ Device = (*ExecDevice)(nil)

// NewExecDevice parses cmdline with shell quoting rules. An empty cmdline
// selects [DefaultExecCommand].
func NewExecDevice(cmdline string, opts ...ExecOption) (*ExecDevice, error) {
	if strings.TrimSpace(cmdline) == "" {
		cmdline = DefaultExecCommand
	}
	args, err := shellwords.Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("capture: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("capture: command must not be empty")
	}
	d := &ExecDevice{args: args, mime: "audio/wav"}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Args returns the parsed command line.
func (d *ExecDevice) Args() []string {
	return append([]string(nil), d.args...)
}

// Open starts the recorder process. A missing executable is reported as
// Unsupported; a refused device as PermissionDenied.
func (d *ExecDevice) Open(ctx context.Context) (Stream, error) {
	cmd := exec.CommandContext(ctx, d.args[0], d.args[1:]...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, types.NewError(types.KindUnsupported, "capture: open", err)
		case errors.Is(err, os.ErrPermission):
			return nil, types.NewError(types.KindPermissionDenied, "capture: open", err)
		}
		return nil, fmt.Errorf("capture: start %s: %w", d.args[0], err)
	}
	p := &process{cmd: cmd, stdout: stdout, stderr: stderr, mime: d.mime}
	return p, nil
}

// process is a running recorder command.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *syncBuffer
	mime   string

	stopOnce  sync.Once
	killTimer *time.Timer
	closeOnce sync.Once
	closeErr  error
}

func (p *process) Read(b []byte) (int, error) { return p.stdout.Read(b) }

func (p *process) Tracks() []Track { return []Track{p} }

func (p *process) MIMEType() string { return p.mime }

// Stop interrupts the process and kills it if it does not exit within
// killGrace.
func (p *process) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if sigErr := p.cmd.Process.Signal(os.Interrupt); sigErr != nil && !errors.Is(sigErr, os.ErrProcessDone) {
			err = fmt.Errorf("capture: interrupt recorder: %w", sigErr)
			_ = p.cmd.Process.Kill()
			return
		}
		p.killTimer = time.AfterFunc(killGrace, func() { _ = p.cmd.Process.Kill() })
	})
	return err
}

// Close waits for the process. An exit caused by the interrupt is not an
// error; any other failure carries the recorder's stderr.
func (p *process) Close() error {
	p.closeOnce.Do(func() {
		err := p.cmd.Wait()
		if p.killTimer != nil {
			p.killTimer.Stop()
		}
		var exitErr *exec.ExitError
		if err == nil || (errors.As(err, &exitErr) && !exitErr.Exited()) {
			return
		}
		if msg := strings.TrimSpace(p.stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		p.closeErr = fmt.Errorf("capture: recorder exited: %w", err)
	})
	return p.closeErr
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of exec's
// stderr copier and reads from Close.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
