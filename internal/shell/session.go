// Package shell maintains one interactive shell session across an ordered
// chain of hops (jump host, internal host, elevated user) over a single SSH
// transport, and runs commands on it by detecting the remote prompt.
//
// A Session owns the transport and PTY channel. Connect drives the hop chain
// and leaves the session Ready; Run executes one-shot commands and Stream
// follows long-running ones. Only one command may own the terminal at a
// time: a second caller gets ErrBusy instead of waiting.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// Session is a single multi-hop interactive shell.
type Session struct {
	id      string
	cfg     Config
	dialer  sshtransport.Dialer
	limiter *RateLimiter
	ready   *prompt.Matcher

	// token is the single-command ownership token. Holding it grants
	// exclusive use of the channel and pending.
	token chan struct{}

	mu         sync.Mutex
	transport  sshtransport.Transport
	channel    sshtransport.Channel
	gen        uint64
	pending    []byte
	hopsDone   []string
	lastPrompt string

	streamMu sync.Mutex
	active   *Stream

	states *stateTracker
	events *eventBus
	health *HealthMetrics
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the SSH dialer, e.g. with a scripted fake in tests.
func WithDialer(d sshtransport.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// WithRateLimiter makes Connect consult rl before dialing.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Session) { s.limiter = rl }
}

// WithSink registers an event sink at creation time.
func WithSink(sink EventSink) Option {
	return func(s *Session) { s.events.add(sink) }
}

// New creates a disconnected session for cfg.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		dialer: &sshtransport.SSHDialer{},
		ready:  prompt.NewMatcher(cfg.ReadyPrompts...),
		token:  make(chan struct{}, 1),
		states: &stateTracker{},
		events: &eventBus{},
		health: &HealthMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Config returns the session's configuration.
func (s *Session) Config() Config { return s.cfg }

// HopsCompleted returns the names of the hops entered so far.
func (s *Session) HopsCompleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hopsDone...)
}

// LastPrompt returns the most recently matched prompt text.
func (s *Session) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

func (s *Session) tryAcquire() bool {
	select {
	case s.token <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Session) release() {
	<-s.token
}

// Busy reports whether a command or stream currently owns the session.
func (s *Session) Busy() bool {
	return len(s.token) == 1
}

// current returns the live channel and its generation.
func (s *Session) current() (sshtransport.Channel, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, s.gen
}

// acquireReady takes the ownership token for a command on a Ready session.
func (s *Session) acquireReady() (sshtransport.Channel, uint64, error) {
	if s.State().Phase != PhaseReady {
		return nil, 0, ErrNotReady
	}
	if !s.tryAcquire() {
		return nil, 0, ErrBusy
	}
	ch, gen := s.current()
	if ch == nil || s.State().Phase != PhaseReady {
		s.release()
		return nil, 0, ErrNotReady
	}
	return ch, gen, nil
}

// drainStale discards bytes that arrived while no command was waiting.
func (s *Session) drainStale(ch sshtransport.Channel) {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	ch.Recv()
}

// waitFor waits for m to match on ch, starting from the session's pending
// bytes, and maps prompt errors onto the session's error taxonomy.
func (s *Session) waitFor(ctx context.Context, ch sshtransport.Channel, m *prompt.Matcher, stage string, timeout time.Duration) (prompt.MatchResult, error) {
	s.mu.Lock()
	buf := s.pending
	s.pending = nil
	s.mu.Unlock()

	res, buf, err := prompt.Wait(ctx, ch, m, buf, prompt.WaitOptions{
		Timeout:       timeout,
		QuietInterval: s.cfg.QuietInterval,
	})
	if err == nil {
		s.mu.Lock()
		s.lastPrompt = res.Prompt
		s.mu.Unlock()
		return res, nil
	}

	s.mu.Lock()
	s.pending = buf
	s.mu.Unlock()

	var te *prompt.TimeoutError
	switch {
	case errors.As(err, &te):
		return res, &PromptTimeoutError{
			Stage:      stage,
			Timeout:    te.Timeout,
			Patterns:   te.Patterns,
			LastPrompt: s.LastPrompt(),
			Buffer:     te.Buffer,
		}
	case errors.Is(err, prompt.ErrSourceClosed):
		return res, &TransportError{Op: stage, Err: ch.Err()}
	default:
		return res, err
	}
}

// teardown closes the connection of generation gen. It returns false if
// that generation was already torn down.
func (s *Session) teardown(gen uint64) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	tr, ch := s.transport, s.channel
	s.transport, s.channel = nil, nil
	s.pending = nil
	s.hopsDone = nil
	s.gen++
	s.mu.Unlock()

	closeConn(tr, ch)
	return true
}

func closeConn(tr sshtransport.Transport, ch sshtransport.Channel) error {
	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if tr != nil {
		if err := tr.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// abort hard-closes the connection of generation gen and marks the session
// failed. It is a no-op if that connection is already gone.
func (s *Session) abort(gen uint64, reason FailReason, why string) {
	if !s.teardown(gen) {
		return
	}
	s.states.set(State{Phase: PhaseFailed, Reason: reason}, why)
	log.Printf("[shell] session %s aborted: %s", s.id, why)
	s.emit(EventAborted, "", why, 0, true)
}

// Disconnect closes the channel and transport and returns the session to
// Disconnected. It is idempotent. An active stream ends with a transport
// error.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	tr, ch := s.transport, s.channel
	s.transport, s.channel = nil, nil
	s.pending = nil
	s.hopsDone = nil
	s.gen++
	s.mu.Unlock()

	err := closeConn(tr, ch)
	if err != nil {
		err = fmt.Errorf("disconnect: %w", err)
	}

	prev := s.states.set(State{Phase: PhaseDisconnected}, "disconnect requested")
	if prev.Phase != PhaseDisconnected {
		log.Printf("[shell] session %s disconnected", s.id)
		s.emit(EventDisconnected, "", "disconnected", 0, false)
	}
	return err
}
