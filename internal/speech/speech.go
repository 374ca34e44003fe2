// Package speech obtains a text transcript from spoken input with a
// multi-tier provider fallback: a live recognition engine when one is
// reachable, a bounded raw-audio capture otherwise.
package speech

import (
	"context"
	"errors"
	"log"
	"sync"
)

const (
	ProviderLive        = "live-recognition"
	ProviderManual      = "manual-capture"
	ProviderUnavailable = "unavailable"
)

// ErrUnavailable means no provider in the chain could serve the session. The
// caller degrades to typed input; this is never fatal.
var ErrUnavailable = errors.New("no speech provider available")

// Result is the outcome of one acquisition session. Transcribed is false for
// the recording-only tier, which returns captured audio and a user-facing
// notice instead of text.
type Result struct {
	Provider    string
	Transcript  string
	Transcribed bool
	Notice      string
	Audio       []byte
}

// Provider is one acquisition strategy. Probe reports whether the strategy is
// currently serviceable; Start runs a single session to completion. A nil
// error with an untranscribed Result is a resolved session (for example
// no speech detected); a non-nil error makes the pipeline fall through to the
// next provider.
type Provider interface {
	Name() string
	Probe(ctx context.Context) error
	Start(ctx context.Context, state *SessionState) (Result, error)
}

// Playback is the sibling speech-output concern; an active playback is
// stopped before the microphone opens so the device is never listening and
// talking at once.
type Playback interface {
	Stop()
}

// SessionState is the UI-observable state of the in-flight session.
type SessionState struct {
	mu         sync.Mutex
	recording  bool
	processing bool
	volume     float64
}

func (s *SessionState) setRecording(v bool) {
	s.mu.Lock()
	s.recording = v
	s.mu.Unlock()
}

func (s *SessionState) setProcessing(v bool) {
	s.mu.Lock()
	s.processing = v
	s.mu.Unlock()
}

// SetVolume records the current input level, clamped to 0..1.
func (s *SessionState) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
}

func (s *SessionState) Snapshot() (recording, processing bool, volume float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording, s.processing, s.volume
}

// Pipeline tries an ordered list of providers until one serves the session.
// At most one session is active at a time: starting a new one invalidates the
// previous session's token and cancels it.
type Pipeline struct {
	Providers []Provider
	Playback  Playback
	Logger    *log.Logger

	mu     sync.Mutex
	seq    uint64
	token  uint64
	cancel context.CancelFunc
	state  *SessionState
}

func New(providers ...Provider) *Pipeline {
	return &Pipeline{Providers: providers}
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// State returns the current session's observable state, or nil when no
// session has been started.
func (p *Pipeline) State() *SessionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start runs one acquisition session. Any in-flight prior session is
// cancelled first, along with ongoing speech playback. Providers are probed
// in order; a provider whose Start fails hard falls through to the next one.
func (p *Pipeline) Start(ctx context.Context) (Result, error) {
	p.mu.Lock()
	p.seq++
	token := p.seq
	if p.cancel != nil {
		p.cancel()
	}
	if p.Playback != nil {
		p.Playback.Stop()
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.token = token
	state := &SessionState{}
	p.state = state
	p.mu.Unlock()
	defer p.release(token)

	for _, prov := range p.Providers {
		if err := prov.Probe(ctx); err != nil {
			p.logger().Printf("speech: provider %s unavailable: %v", prov.Name(), err)
			continue
		}
		res, err := prov.Start(ctx, state)
		if err != nil {
			p.logger().Printf("speech: provider %s failed, falling through: %v", prov.Name(), err)
			continue
		}
		res.Provider = prov.Name()
		return res, nil
	}
	return Result{
		Provider: ProviderUnavailable,
		Notice:   "Speech input is not available right now. Please type your request instead.",
	}, ErrUnavailable
}

// release cancels the session identified by token if it is still the current
// one; a session that was already superseded must not cancel its successor.
func (p *Pipeline) release(token uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == token && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Stop cancels the active session. It is safe to call at any time, including
// when no session is active.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
