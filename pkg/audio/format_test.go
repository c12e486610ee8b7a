package audio_test

import (
	"testing"

	"github.com/MrWong99/goftar/pkg/audio"
)

func TestSniff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want audio.Format
	}{
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), audio.FormatWAV},
		{"riff not wave", []byte("RIFF\x24\x00\x00\x00AVI LIST"), audio.FormatUnknown},
		{"ogg", []byte("OggS\x00\x02"), audio.FormatOgg},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x9F}, audio.FormatWebM},
		{"mp4", []byte("\x00\x00\x00\x20ftypM4A "), audio.FormatMP4},
		{"flac", []byte("fLaC\x00\x00\x00\x22"), audio.FormatFLAC},
		{"caf", []byte("caff\x00\x01"), audio.FormatCAF},
		{"mp3 id3", []byte("ID3\x04\x00"), audio.FormatMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, audio.FormatMP3},
		{"aac adts", []byte{0xFF, 0xF1, 0x50, 0x80}, audio.FormatAAC},
		{"text", []byte("hello world"), audio.FormatUnknown},
		{"empty", nil, audio.FormatUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Sniff(tc.data); got != tc.want {
				t.Errorf("Sniff = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFormatFromHint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hint string
		want audio.Format
	}{
		{"", audio.FormatUnknown},
		{"recording.webm", audio.FormatWebM},
		{".WAV", audio.FormatWAV},
		{"m4a", audio.FormatMP4},
		{"audio/webm;codecs=opus", audio.FormatWebM},
		{"audio/x-m4a", audio.FormatMP4},
		{"audio/mpeg", audio.FormatMP3},
		{"blob", audio.FormatUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.hint, func(t *testing.T) {
			t.Parallel()
			if got := audio.FormatFromHint(tc.hint); got != tc.want {
				t.Errorf("FormatFromHint(%q) = %q, want %q", tc.hint, got, tc.want)
			}
		})
	}
}

func TestDetect_SniffWinsOverHint(t *testing.T) {
	t.Parallel()

	data := []byte("OggS\x00\x02rest")
	if got := audio.Detect(data, "clip.webm"); got != audio.FormatOgg {
		t.Errorf("Detect = %q, want ogg", got)
	}
	if got := audio.Detect([]byte("????"), "clip.m4a"); got != audio.FormatMP4 {
		t.Errorf("Detect = %q, want hint fallback mp4", got)
	}
}
