// Package mock provides test doubles for the stt package interfaces.
//
// Use Transcriber to script batch results and inspect the audio each call
// received. Use Provider and Session to drive streaming consumers: push
// Transcript values into PartialsCh and FinalsCh, then call End to simulate
// the backend terminating the stream.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.FinalsCh <- types.Transcript{Text: "سلام", IsFinal: true}
//	sess.End()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/goftar/pkg/audio"
	"github.com/MrWong99/goftar/pkg/provider/stt"
	"github.com/MrWong99/goftar/pkg/types"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Data is a copy of the audio passed to Transcribe.
	Data []byte
	// Language is the language hint passed to Transcribe.
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by every Transcribe call unless TranscribeFunc is set.
	Result stt.Result

	// TranscribeErr, if non-nil, is returned by Transcribe.
	TranscribeErr error

	// TranscribeFunc, if set, overrides Result and TranscribeErr.
	TranscribeFunc func(ctx context.Context, data []byte, language string) (stt.Result, error)

	// InputFormat is returned by Input. Defaults to audio.CanonicalWAV.
	InputFormat audio.Canonical

	// Mode is returned by Name. Defaults to "mock".
	Mode string

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, language string) (stt.Result, error) {
	t.mu.Lock()
	cp := make([]byte, len(data))
	copy(cp, data)
	t.TranscribeCalls = append(t.TranscribeCalls, TranscribeCall{Data: cp, Language: language})
	fn, res, err := t.TranscribeFunc, t.Result, t.TranscribeErr
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, data, language)
	}
	return res, err
}

// Input returns InputFormat.
func (t *Transcriber) Input() audio.Canonical { return t.InputFormat }

// Name returns Mode, or "mock" when unset.
func (t *Transcriber) Name() string {
	if t.Mode == "" {
		return "mock"
	}
	return t.Mode
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.TranscribeCalls)
}

// Calls returns a snapshot of the recorded Transcribe calls. Thread-safe.
func (t *Transcriber) Calls() []TranscribeCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscribeCall, len(t.TranscribeCalls))
	copy(out, t.TranscribeCalls)
	return out
}

var _ stt.Transcriber = (*Transcriber)(nil)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is returned by StartStream. If nil, every call returns a fresh
	// Session from NewSession, recorded in Sessions.
	Session *Session

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	s := p.Session
	if s == nil {
		s = NewSession()
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// SessionAt returns the i-th session handed out, or nil. Thread-safe.
func (p *Provider) SessionAt(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Sessions) {
		return nil
	}
	return p.Sessions[i]
}

// StartStreamCallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) StartStreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
type Session struct {
	mu sync.Mutex

	// PartialsCh is the channel returned by Partials.
	PartialsCh chan types.Transcript

	// FinalsCh is the channel returned by Finals.
	FinalsCh chan types.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	endOnce sync.Once
}

// NewSession returns a Session with buffered channels.
func NewSession() *Session {
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}
}

// SendAudio records the call and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Partials returns PartialsCh.
func (s *Session) Partials() <-chan types.Transcript { return s.PartialsCh }

// Finals returns FinalsCh.
func (s *Session) Finals() <-chan types.Transcript { return s.FinalsCh }

// End closes both output channels, as a backend does when the stream
// terminates. Safe to call more than once.
func (s *Session) End() {
	s.endOnce.Do(func() {
		close(s.PartialsCh)
		close(s.FinalsCh)
	})
}

// Close records the call, ends the stream and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	err := s.CloseErr
	s.mu.Unlock()
	s.End()
	return err
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Closed returns the number of Close calls. Thread-safe.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ stt.SessionHandle = (*Session)(nil)
