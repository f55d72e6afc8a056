// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig and to script handshake failures. Use Session to feed
// controlled Transcript values, simulate backend drops, and inspect which
// audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Sessions: []*mock.Session{sess}}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Emit(types.Transcript{Text: "hello", IsFinal: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcall/pkg/provider/stt"
	"github.com/MrWong99/voxcall/pkg/types"
)

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

	// Sessions is a queue of sessions handed out by successive successful
	// StartStream calls. When it runs dry a fresh NewSession is returned.
	Sessions []*Session

	// StartStreamErr, if non-nil, is returned by every StartStream call.
	StartStreamErr error

	// StartStreamErrs scripts per-call failures: the n-th StartStream call
	// returns StartStreamErrs[n] when that entry is non-nil.
	StartStreamErrs []error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	last *Session
}

// StartStream records the call and returns the next queued Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.StartStreamCalls)
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if n < len(p.StartStreamErrs) && p.StartStreamErrs[n] != nil {
		return nil, p.StartStreamErrs[n]
	}
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var s *Session
	if len(p.Sessions) > 0 {
		s = p.Sessions[0]
		p.Sessions = p.Sessions[1:]
	} else {
		s = NewSession()
	}
	p.last = s
	return s, nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Last returns the most recently handed-out Session, or nil. Thread-safe.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
// Create one with NewSession; feed it with Emit and end it with Drop or Close.
type Session struct {
	mu sync.Mutex

	ch     chan types.Transcript
	ended  bool
	err    error
	closed int

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte
}

// NewSession returns a ready Session with a buffered transcript channel.
func NewSession() *Session {
	return &Session{ch: make(chan types.Transcript, 64)}
}

// Emit delivers t on the Transcripts channel. It is a no-op after the
// session ended.
func (s *Session) Emit(t types.Transcript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ch <- t
}

// Drop simulates the backend closing the stream with err.
func (s *Session) Drop(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	close(s.ch)
}

// SendAudio records the call and returns SendAudioErr, or
// stt.ErrSessionClosed once the session ended.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return stt.ErrSessionClosed
	}
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Transcripts implements stt.SessionHandle.
func (s *Session) Transcripts() <-chan types.Transcript { return s.ch }

// Err implements stt.SessionHandle.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session cleanly. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
	return nil
}

// SendAudioCallCount returns the number of recorded SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// CloseCallCount returns the number of Close calls. Thread-safe.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
