package audio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MrWong99/goftar/pkg/types"
)

// CanonicalSampleRate is the sample rate of every canonical output.
const CanonicalSampleRate = 16000

// Canonical is the output contract required by a transcription backend.
type Canonical int

const (
	// CanonicalWAV is 16 kHz mono signed 16-bit PCM in a RIFF/WAVE container,
	// as consumed by offline engines.
	CanonicalWAV Canonical = iota

	// CanonicalCompact is 16 kHz mono Opus in an Ogg container, a compact
	// upload format accepted by cloud transcription APIs.
	CanonicalCompact
)

// String returns the name of the canonical format.
func (c Canonical) String() string {
	switch c {
	case CanonicalWAV:
		return "wav"
	case CanonicalCompact:
		return "ogg-opus"
	default:
		return "unknown"
	}
}

// Extension returns the file extension of the canonical format.
func (c Canonical) Extension() string {
	if c == CanonicalCompact {
		return ".ogg"
	}
	return ".wav"
}

// MIMEType returns the media type of the canonical format.
func (c Canonical) MIMEType() string {
	if c == CanonicalCompact {
		return "audio/ogg"
	}
	return "audio/wav"
}

func (c Canonical) codecArgs() []string {
	if c == CanonicalCompact {
		return []string{"-c:a", "libopus", "-b:a", "32k", "-f", "ogg"}
	}
	return []string{"-c:a", "pcm_s16le", "-f", "wav"}
}

// Job is a single upload being transcoded.
type Job struct {
	// ID uniquely names the job's temporary files.
	ID string

	// Data is the raw uploaded payload.
	Data []byte

	// Hint is the client-supplied file name, extension or MIME type. May be
	// empty.
	Hint string

	// WorkDir receives the job's temporary files. Empty means os.TempDir().
	WorkDir string
}

// Transcoder converts uploads into canonical audio. It is safe for concurrent
// use; every call works only inside its job's directory.
type Transcoder struct {
	converter Converter
	native    bool
}

// Option is a functional option for [Transcoder].
type Option func(*Transcoder)

// WithConverter replaces the external converter (ffmpeg by default).
func WithConverter(c Converter) Option {
	return func(t *Transcoder) { t.converter = c }
}

// WithNativeDecoding toggles the in-process WAV and Ogg/Opus decoders.
// Enabled by default; when disabled every job goes through the converter.
func WithNativeDecoding(enabled bool) Option {
	return func(t *Transcoder) { t.native = enabled }
}

// NewTranscoder returns a Transcoder. Without [WithConverter] an ffmpeg
// converter using [DefaultFFmpegCommand] is used.
func NewTranscoder(opts ...Option) (*Transcoder, error) {
	t := &Transcoder{native: true}
	for _, o := range opts {
		o(t)
	}
	if t.converter == nil {
		ff, err := NewFFmpeg("")
		if err != nil {
			return nil, err
		}
		t.converter = ff
	}
	return t, nil
}

// Transcode converts job.Data into target. Malformed input yields a
// [types.KindTranscode] error with reason [types.ReasonDecode]; failures to
// stage or read files yield reason [types.ReasonWrite]. Temporary files are
// always removed, and removal failures are logged rather than returned.
func (t *Transcoder) Transcode(ctx context.Context, job Job, target Canonical) ([]byte, error) {
	if len(job.Data) == 0 {
		return nil, types.TranscodeError(types.ReasonDecode, "audio: transcode", errors.New("empty input"))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("audio: transcode: %w", err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	format := Detect(job.Data, job.Hint)
	log := slog.With("job_id", job.ID, "format", string(format), "target", target.String())

	if t.native {
		out, ok, err := t.transcodeNative(job, format, target)
		if err != nil {
			return nil, err
		}
		if ok {
			log.Debug("transcoded in-process", "bytes", len(out))
			return out, nil
		}
	}

	return t.transcodeExternal(ctx, job, format, target)
}

// transcodeNative handles the containers that can be decoded in-process. ok is
// false when the job must go through the external converter instead.
func (t *Transcoder) transcodeNative(job Job, format Format, target Canonical) (out []byte, ok bool, err error) {
	var pcm PCM
	switch {
	case format == FormatOgg && target == CanonicalCompact && isOggOpus(job.Data):
		return job.Data, true, nil
	case target != CanonicalWAV:
		return nil, false, nil
	case format == FormatWAV:
		pcm, err = DecodeWAV(job.Data)
	case format == FormatOgg && isOggOpus(job.Data):
		pcm, err = DecodeOggOpus(job.Data)
	default:
		return nil, false, nil
	}
	if err != nil {
		slog.Debug("in-process decode failed, using converter", "job_id", job.ID, "err", err)
		return nil, false, nil
	}

	if pcm.SampleRate == CanonicalSampleRate && pcm.Channels == 1 && pcm.BitDepth == 16 && format == FormatWAV {
		return job.Data, true, nil
	}
	out, err = EncodeWAV(workDir(job), pcm.Canonicalise())
	if err != nil {
		return nil, false, types.TranscodeError(types.ReasonWrite, "audio: encode wav", err)
	}
	return out, true, nil
}

func (t *Transcoder) transcodeExternal(ctx context.Context, job Job, format Format, target Canonical) ([]byte, error) {
	dir := workDir(job)
	inPath := filepath.Join(dir, job.ID+"-in"+format.Extension())
	outPath := filepath.Join(dir, job.ID+"-out"+target.Extension())
	defer removeQuietly(inPath)
	defer removeQuietly(outPath)

	if err := os.WriteFile(inPath, job.Data, 0o600); err != nil {
		return nil, types.TranscodeError(types.ReasonWrite, "audio: stage input", err)
	}

	if err := t.converter.Convert(ctx, inPath, outPath, target); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("audio: transcode: %w", ctxErr)
		}
		return nil, types.TranscodeError(types.ReasonDecode, "audio: convert", err)
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, types.TranscodeError(types.ReasonWrite, "audio: read output", err)
	}
	if len(out) == 0 {
		return nil, types.TranscodeError(types.ReasonDecode, "audio: convert", errors.New("converter produced no output"))
	}
	return out, nil
}

func workDir(job Job) string {
	if job.WorkDir != "" {
		return job.WorkDir
	}
	return os.TempDir()
}

// removeQuietly deletes path, logging anything other than "not found".
func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to remove temporary audio file", "path", path, "err", err)
	}
}
