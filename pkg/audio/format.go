// Package audio implements the transcoding stage: it normalises arbitrary
// uploaded audio into the canonical format a transcription backend requires.
//
// Uploads frequently arrive without a reliable extension (mobile recorders
// often omit one), so the container is determined by [Sniff] on the payload
// whenever the hint is missing or unknown. Two containers are decoded
// in-process: RIFF/WAV through github.com/go-audio/wav and Ogg/Opus through
// layeh.com/gopus. Everything else is handed to an ffmpeg subprocess.
//
// All temporary artefacts are written into the per-job work directory and
// removed before [Transcoder.Transcode] returns.
package audio

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format identifies an audio container.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatOgg     Format = "ogg"
	FormatWebM    Format = "webm"
	FormatMP4     Format = "mp4"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
	FormatAAC     Format = "aac"
	FormatCAF     Format = "caf"
)

// hintFormats maps lower-case file extensions and MIME subtypes to formats.
var hintFormats = map[string]Format{
	"wav":    FormatWAV,
	"wave":   FormatWAV,
	"x-wav":  FormatWAV,
	"ogg":    FormatOgg,
	"oga":    FormatOgg,
	"opus":   FormatOgg,
	"webm":   FormatWebM,
	"mkv":    FormatWebM,
	"mp4":    FormatMP4,
	"m4a":    FormatMP4,
	"x-m4a":  FormatMP4,
	"mpeg":   FormatMP3,
	"mp3":    FormatMP3,
	"flac":   FormatFLAC,
	"aac":    FormatAAC,
	"caf":    FormatCAF,
	"x-caf":  FormatCAF,
	"3gpp":   FormatMP4,
	"3gp":    FormatMP4,
	"x-flac": FormatFLAC,
}

// FormatFromHint maps a file name, bare extension or MIME type to a [Format].
// It returns [FormatUnknown] when the hint is empty or unrecognised.
func FormatFromHint(hint string) Format {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return FormatUnknown
	}
	// "audio/webm;codecs=opus" → "webm"
	if i := strings.IndexByte(hint, ';'); i >= 0 {
		hint = hint[:i]
	}
	if i := strings.LastIndexByte(hint, '/'); i >= 0 {
		hint = hint[i+1:]
	}
	if ext := filepath.Ext(hint); ext != "" {
		hint = ext
	}
	hint = strings.TrimPrefix(hint, ".")
	return hintFormats[hint]
}

// Sniff inspects the leading bytes of data and returns the detected container
// format, or [FormatUnknown].
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return FormatWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return FormatOgg
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return FormatWebM
	case len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")):
		return FormatMP4
	case bytes.HasPrefix(data, []byte("fLaC")):
		return FormatFLAC
	case bytes.HasPrefix(data, []byte("caff")):
		return FormatCAF
	case bytes.HasPrefix(data, []byte("ID3")):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		// ADTS sync word with layer bits 00.
		return FormatAAC
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	}
	return FormatUnknown
}

// Detect resolves the container of data, preferring a recognised hint and
// falling back to content sniffing. When both are available and disagree the
// sniffed format wins, since browsers routinely mislabel recordings.
func Detect(data []byte, hint string) Format {
	sniffed := Sniff(data)
	if sniffed != FormatUnknown {
		return sniffed
	}
	return FormatFromHint(hint)
}

// Extension returns the conventional file extension (with leading dot) for f.
// Unknown formats map to ".bin" so ffmpeg detects the content itself.
func (f Format) Extension() string {
	if f == FormatUnknown {
		return ".bin"
	}
	return "." + string(f)
}
