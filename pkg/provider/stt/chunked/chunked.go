// Package chunked turns any batch [stt.Transcriber] into a streaming
// [stt.Provider].
//
// Batch engines such as whisper cannot emit true low-latency partials. The
// provider buffers incoming PCM, applies an energy-based silence detector to
// segment utterances and submits each completed utterance as one batch
// request. Every committed utterance is emitted as a partial followed by a
// final carrying the same text, which is enough to drive a live transcript.
//
// Usage:
//
//	p, err := chunked.New(offline, chunked.WithSilenceThreshold(700*time.Millisecond))
//	handle, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	handle.SendAudio(pcmChunk)
//	transcript := <-handle.Finals()
//	handle.Close()
package chunked

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

const (
	// defaultRMSThreshold is the root-mean-square energy (in 16-bit PCM units)
	// below which a chunk counts as silence.
	defaultRMSThreshold = 300.0

	defaultSampleRate       = 16000
	defaultSilenceThreshold = 600 * time.Millisecond
	defaultMaxUtterance     = 15 * time.Second
)

var errClosed = errors.New("chunked: session is closed")

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithSilenceThreshold sets the trailing silence that ends an utterance.
func WithSilenceThreshold(d time.Duration) Option {
	return func(p *Provider) { p.silence = d }
}

// WithMaxUtterance forces a flush once an utterance grows this long.
func WithMaxUtterance(d time.Duration) Option {
	return func(p *Provider) { p.maxUtterance = d }
}

// WithRMSThreshold sets the energy level below which audio is silence.
func WithRMSThreshold(rms float64) Option {
	return func(p *Provider) { p.rms = rms }
}

// WithTranscoder sets the transcoder used for backends whose input is not
// canonical WAV. A default ffmpeg-backed transcoder is created otherwise.
func WithTranscoder(t *audio.Transcoder) Option {
	return func(p *Provider) { p.transcoder = t }
}

// Provider implements stt.Provider on top of a batch Transcriber.
type Provider struct {
	backend      stt.Transcriber
	transcoder   *audio.Transcoder
	silence      time.Duration
	maxUtterance time.Duration
	rms          float64
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider that submits utterances to backend.
func New(backend stt.Transcriber, opts ...Option) (*Provider, error) {
	if backend == nil {
		return nil, errors.New("chunked: backend must not be nil")
	}
	p := &Provider{
		backend:      backend,
		silence:      defaultSilenceThreshold,
		maxUtterance: defaultMaxUtterance,
		rms:          defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	if p.transcoder == nil && backend.Input() != audio.CanonicalWAV {
		tc, err := audio.NewTranscoder()
		if err != nil {
			return nil, fmt.Errorf("chunked: %w", err)
		}
		p.transcoder = tc
	}
	return p, nil
}

// StartStream opens a session. No backend call happens until the first
// utterance is complete.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("chunked: start stream: %w", err)
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	s := &session{
		p:          p,
		language:   cfg.Language,
		sampleRate: sr,
		channels:   ch,
		audioCh:    make(chan []byte, 256),
		partials:   make(chan types.Transcript, 64),
		finals:     make(chan types.Transcript, 64),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(context.WithoutCancel(ctx), ctx.Done())
	return s, nil
}

// session is one live stream. All buffering state is confined to the
// processLoop goroutine.
type session struct {
	p          *Provider
	language   string
	sampleRate int
	channels   int

	audioCh  chan []byte
	partials chan types.Transcript
	finals   chan types.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errClosed
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errClosed
	}
}

func (s *session) Partials() <-chan types.Transcript { return s.partials }

func (s *session) Finals() <-chan types.Transcript { return s.finals }

// Close flushes the pending utterance, then closes both output channels.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

func (s *session) processLoop(ctx context.Context, cancelled <-chan struct{}) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
		elapsed   time.Duration // stream time consumed so far
		uttStart  time.Duration
	)
	bytesPerSec := s.sampleRate * s.channels * 2
	maxBytes := int(s.p.maxUtterance.Seconds() * float64(bytesPerSec))

	flush := func() {
		if len(buffer) == 0 || !hadSpeech {
			buffer, hadSpeech, silence = nil, false, 0
			return
		}
		pcm, start := buffer, uttStart
		buffer, hadSpeech, silence = nil, false, 0

		fctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		res, err := s.transcribe(fctx, pcm)
		if err != nil {
			slog.Warn("chunked: utterance transcription failed", "backend", s.p.backend.Name(), "err", err)
			return
		}
		if res.Text == "" {
			return
		}
		t := types.Transcript{
			Text:       res.Text,
			Confidence: res.Confidence,
			Timestamp:  start,
			Duration:   time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSec),
		}
		s.partials <- t
		t.IsFinal = true
		s.finals <- t
	}

	for {
		select {
		case <-cancelled:
			flush()
			return
		case <-s.done:
			// Drain what was queued before Close.
			for {
				select {
				case chunk := <-s.audioCh:
					buffer = append(buffer, chunk...)
				default:
					flush()
					return
				}
			}
		case chunk := <-s.audioCh:
			dur := time.Duration(len(chunk)) * time.Second / time.Duration(bytesPerSec)
			elapsed += dur

			if computeRMS(chunk) < s.p.rms {
				// Leading silence before any speech is discarded.
				if hadSpeech {
					silence += dur
					buffer = append(buffer, chunk...)
					if silence >= s.p.silence {
						flush()
					}
				}
				continue
			}
			if !hadSpeech {
				uttStart = elapsed - dur
			}
			hadSpeech = true
			silence = 0
			buffer = append(buffer, chunk...)
			if maxBytes > 0 && len(buffer) >= maxBytes {
				flush()
			}
		}
	}
}

// transcribe wraps pcm in a canonical container and submits it.
func (s *session) transcribe(ctx context.Context, pcm []byte) (stt.Result, error) {
	canonical := audio.PCMFromBytes16(pcm, s.sampleRate, s.channels).Canonicalise()
	wav, err := audio.EncodeWAV("", canonical)
	if err != nil {
		return stt.Result{}, err
	}

	data := wav
	if target := s.p.backend.Input(); target != audio.CanonicalWAV {
		data, err = s.p.transcoder.Transcode(ctx, audio.Job{Data: wav, Hint: "wav"}, target)
		if err != nil {
			return stt.Result{}, err
		}
	}
	return s.p.backend.Transcribe(ctx, data, s.language)
}

// computeRMS returns the root-mean-square energy of 16-bit little-endian PCM.
func computeRMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
