// Package mock provides a scriptable in-memory recognition backend for
// tests.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/nvollmar/backchannel/pkg/provider/asr"
)

// Outcome is one scripted Accept response.
type Outcome struct {
	Result asr.Result
	Err    error
}

// Compile-time interface checks.
var (
	_ asr.Provider = (*Provider)(nil)
	_ asr.Session  = (*Session)(nil)
)

// Provider is a scriptable asr.Provider. The zero value is not ready;
// use NewProvider for a ready one.
type Provider struct {
	mu       sync.Mutex
	ready    bool
	script   []Outcome
	sessions []*Session
}

// NewProvider returns a ready Provider whose sessions replay script in
// order, then yield empty outcomes.
func NewProvider(script ...Outcome) *Provider {
	return &Provider{ready: true, script: script}
}

// SetReady toggles the readiness flag.
func (p *Provider) SetReady(ready bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = ready
}

// Ready implements [asr.Provider.Ready].
func (p *Provider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// NewSession implements [asr.Provider.NewSession]. Each session gets
// its own copy of the script.
func (p *Provider) NewSession(ctx context.Context, cfg asr.SessionConfig) (asr.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return nil, asr.ErrModelUnavailable
	}
	s := &Session{queue: append([]Outcome(nil), p.script...)}
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Sessions returns every session created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// Session replays scripted outcomes and records the frames it was fed.
type Session struct {
	mu     sync.Mutex
	queue  []Outcome
	frames int
	closed bool
}

// Enqueue appends outcomes to the session's script.
func (s *Session) Enqueue(outcomes ...Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, outcomes...)
}

// Accept implements [asr.Session.Accept] by popping the next scripted
// outcome, or an empty outcome when the script is exhausted.
func (s *Session) Accept(ctx context.Context, frame []byte) (asr.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return asr.Result{}, errors.New("mock: session is closed")
	}
	s.frames++
	if len(s.queue) == 0 {
		return asr.Result{}, nil
	}
	out := s.queue[0]
	s.queue = s.queue[1:]
	return out.Result, out.Err
}

// Close implements [asr.Session.Close].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns how many frames Accept has consumed.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
