package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

// DefaultFFmpegCommand is the command prefix used when none is configured.
const DefaultFFmpegCommand = "ffmpeg -hide_banner -loglevel error -nostdin"

// Converter converts the audio file at inPath into the canonical format at
// outPath. It is the seam between [Transcoder] and the external decoder.
type Converter interface {
	Convert(ctx context.Context, inPath, outPath string, target Canonical) error
}

// errConversionFailed marks a converter run that exited unsuccessfully, which
// almost always means the input could not be decoded.
var errConversionFailed = errors.New("audio: conversion failed")

// FFmpeg runs an ffmpeg subprocess to convert files.
type FFmpeg struct {
	command []string
}

// Compile-time assertion that FFmpeg satisfies Converter.
var _ Converter = (*FFmpeg)(nil)

// NewFFmpeg parses cmdline (for example "ffmpeg -hide_banner" or
// "nice -n 10 /usr/bin/ffmpeg") into a command prefix. An empty cmdline
// selects [DefaultFFmpegCommand].
func NewFFmpeg(cmdline string) (*FFmpeg, error) {
	if strings.TrimSpace(cmdline) == "" {
		cmdline = DefaultFFmpegCommand
	}
	args, err := shellwords.Parse(cmdline)
	if err != nil {
		return nil, fmt.Errorf("audio: parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("audio: ffmpeg command must not be empty")
	}
	return &FFmpeg{command: args}, nil
}

// Args returns the full argument vector for one conversion, excluding the
// executable itself.
func (f *FFmpeg) Args(inPath, outPath string, target Canonical) []string {
	args := append([]string{}, f.command[1:]...)
	args = append(args,
		"-y",
		"-i", inPath,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(CanonicalSampleRate),
	)
	args = append(args, target.codecArgs()...)
	return append(args, outPath)
}

// Convert implements Converter. A non-zero exit is reported together with
// ffmpeg's stderr output.
func (f *FFmpeg) Convert(ctx context.Context, inPath, outPath string, target Canonical) error {
	cmd := exec.CommandContext(ctx, f.command[0], f.Args(inPath, outPath, target)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("audio: ffmpeg: %w", ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s", errConversionFailed, msg)
	}
	return nil
}
