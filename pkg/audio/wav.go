package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// errInvalidWAV is returned by [DecodeWAV] when the RIFF header is not a
// usable WAVE file.
var errInvalidWAV = errors.New("audio: invalid wav file")

// DecodeWAV decodes a complete RIFF/WAVE payload into [PCM]. A well-formed
// file with an empty data chunk yields PCM with no samples and no error.
func DecodeWAV(data []byte) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, errInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil && !errors.Is(err, io.EOF) {
		return PCM{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	p := PCM{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if buf != nil {
		p.Samples = buf.Data
		if buf.Format != nil {
			if p.SampleRate == 0 {
				p.SampleRate = buf.Format.SampleRate
			}
			if p.Channels == 0 {
				p.Channels = buf.Format.NumChannels
			}
		}
		if p.BitDepth == 0 {
			p.BitDepth = buf.SourceBitDepth
		}
	}
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return PCM{}, errInvalidWAV
	}
	return p, nil
}

// WriteWAV encodes p as a 16-bit PCM WAV file at path.
func WriteWAV(path string, p PCM) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create wav: %w", err)
	}

	p = p.To16Bit()
	channels := max(p.Channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: p.SampleRate},
		Data:           p.Samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(f, p.SampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("audio: close wav encoder: %w", err)
	}
	return f.Close()
}

// EncodeWAV returns p encoded as a 16-bit PCM WAV file. The encoder needs a
// seekable sink, so the file is staged in dir and removed afterwards.
func EncodeWAV(dir string, p PCM) ([]byte, error) {
	f, err := os.CreateTemp(dir, "goftar_pcm_*.wav")
	if err != nil {
		return nil, fmt.Errorf("audio: stage wav: %w", err)
	}
	path := f.Name()
	_ = f.Close()
	defer os.Remove(path)

	if err := WriteWAV(path, p); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
