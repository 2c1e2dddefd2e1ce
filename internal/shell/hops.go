package shell

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

var errHopUnreachable = errors.New("hop host unreachable")

// Connect drives the hop chain from Disconnected (or Failed) to Ready. Every
// attempt starts from a fresh transport; nothing is resumed from an earlier
// attempt. Any hop failure leaves the session Failed with the whole
// connection torn down.
func (s *Session) Connect(ctx context.Context) error {
	if st := s.State(); st.Phase != PhaseDisconnected && st.Phase != PhaseFailed {
		return fmt.Errorf("%w: state %s", ErrAlreadyConnected, st)
	}
	if !s.tryAcquire() {
		return ErrBusy
	}
	defer s.release()
	if st := s.State(); st.Phase != PhaseDisconnected && st.Phase != PhaseFailed {
		return fmt.Errorf("%w: state %s", ErrAlreadyConnected, st)
	}

	key := s.cfg.Hops[0].Endpoint.String()
	if s.limiter != nil {
		if err := s.limiter.Allow(key); err != nil {
			s.emit(EventConnectFailed, s.cfg.Hops[0].Name, err.Error(), 0, true)
			return err
		}
	}

	start := time.Now()
	gen, err := s.runHops(ctx)
	if err != nil {
		if s.limiter != nil && !errors.Is(err, context.Canceled) {
			s.limiter.RecordFailure(key)
		}
		s.emit(EventConnectFailed, "", err.Error(), time.Since(start), true)
		return err
	}
	if s.limiter != nil {
		s.limiter.RecordSuccess(key)
	}

	// A Disconnect after the last hop bumps the generation; the session
	// must not report Ready over a connection that is already gone.
	live := func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.gen == gen && s.channel != nil
	}
	if !s.states.setIf(State{Phase: PhaseReady}, "all hops completed", live) {
		err := &TransportError{Op: "connect", Err: sshtransport.ErrClosed}
		s.emit(EventConnectFailed, "", "disconnected before ready", time.Since(start), true)
		return err
	}
	s.health.connected()
	log.Printf("[shell] session %s ready after %d hops (%s)", s.id, len(s.cfg.Hops), time.Since(start).Round(time.Millisecond))
	s.emit(EventConnected, "", fmt.Sprintf("[OK] ready after %d hops", len(s.cfg.Hops)), time.Since(start), false)
	return nil
}

// runHops enters each hop in order. Hop i+1 is not started until hop i's
// prompt has matched.
func (s *Session) runHops(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	stale, staleCh := s.transport, s.channel
	s.transport, s.channel = nil, nil
	s.pending = nil
	s.hopsDone = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()
	closeConn(stale, staleCh)

	for i, hop := range s.cfg.Hops {
		s.states.set(State{Phase: PhaseConnecting, Hop: i}, "entering hop "+hop.Name)
		s.emit(EventHopStarted, hop.Name, fmt.Sprintf("[CMD] %s %s", hop.Kind, hop.Name), 0, false)
		hopStart := time.Now()

		if err := s.enterHop(ctx, i, hop, gen); err != nil {
			return gen, s.failConnect(gen, i, hop, err)
		}

		s.mu.Lock()
		if s.gen == gen {
			s.hopsDone = append(s.hopsDone, hop.Name)
		}
		s.mu.Unlock()
		s.emit(EventHopCompleted, hop.Name, fmt.Sprintf("[OK] %s", hop.Name), time.Since(hopStart), false)
	}
	return gen, nil
}

func (s *Session) enterHop(ctx context.Context, i int, hop Hop, gen uint64) error {
	var ch sshtransport.Channel

	if hop.Kind == HopConnect {
		tr, err := s.dialer.Dial(ctx, hop.Endpoint, s.cfg.Auth)
		if err != nil {
			var authErr *sshtransport.AuthError
			if errors.As(err, &authErr) {
				return &AuthError{Hop: hop.Name, Reason: "rejected by server", Err: err}
			}
			return &TransportError{Op: "dial " + hop.Name, Err: err}
		}
		ch, err = tr.OpenPTY(ctx, s.cfg.PTY)
		if err != nil {
			tr.Close()
			return &TransportError{Op: "open pty on " + hop.Name, Err: err}
		}

		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			closeConn(tr, ch)
			return &TransportError{Op: "connect " + hop.Name, Err: sshtransport.ErrClosed}
		}
		s.transport, s.channel = tr, ch
		s.mu.Unlock()
	} else {
		var cur uint64
		ch, cur = s.current()
		if ch == nil || cur != gen {
			return &TransportError{Op: "enter " + hop.Name, Err: sshtransport.ErrClosed}
		}
		s.drainStale(ch)
		if err := ch.Send([]byte(hop.Command + "\n")); err != nil {
			return &TransportError{Op: "enter " + hop.Name, Err: err}
		}
	}

	return s.awaitHop(ctx, i, hop, ch)
}

// awaitHop waits for hop's prompt or its credential challenge. A prompt
// timeout gets one retry: a bare newline to make the shell redraw its
// prompt, then a second wait. The hop command itself is never resent.
func (s *Session) awaitHop(ctx context.Context, i int, hop Hop, ch sshtransport.Channel) error {
	patterns := hop.Prompts
	challenge := -1
	if hop.Auth != nil {
		patterns = append([]prompt.Pattern{hop.Auth.Prompt}, hop.Prompts...)
		challenge = 0
	}
	m := prompt.NewMatcher(patterns...)
	stage := "hop " + hop.Name

	res, err := s.waitFor(ctx, ch, m, stage, hop.timeout())
	if errors.Is(err, ErrPromptTimeout) && !s.cfg.DisableHopRetry {
		log.Printf("[shell] %s: no prompt after %s, retrying once", stage, hop.timeout())
		s.emit(EventHopRetried, hop.Name, "prompt not seen, nudging once", 0, false)
		if serr := ch.Send([]byte("\n")); serr != nil {
			return &TransportError{Op: stage, Err: serr}
		}
		res, err = s.waitFor(ctx, ch, m, stage, hop.timeout())
	}
	if err != nil {
		return err
	}
	if line := matchedLine(hop.Unreachable, res.Prefix); line != "" {
		return &TransportError{Op: stage, Err: fmt.Errorf("%w: %s", errHopUnreachable, line)}
	}
	if rejected(hop.Reject, res.Prefix) {
		return &AuthError{Hop: hop.Name, Reason: "hop rejected the login"}
	}
	if res.Index == challenge {
		return s.authenticate(ctx, i, hop, ch, m)
	}
	return nil
}

// authenticate answers a credential challenge. The credential is borrowed
// from the caller, written once, and zeroed. A repeated challenge or a
// rejection message is an AuthError; there is no retry.
func (s *Session) authenticate(ctx context.Context, i int, hop Hop, ch sshtransport.Channel, m *prompt.Matcher) error {
	s.states.set(State{Phase: PhaseHopAuthenticating, Hop: i}, "credential challenge from "+hop.Name)

	if s.cfg.Credentials == nil {
		return &AuthError{Hop: hop.Name, Reason: "credential challenge but no credential source configured"}
	}
	cred, err := s.cfg.Credentials(ctx, hop)
	if err != nil {
		return &AuthError{Hop: hop.Name, Reason: "credential unavailable", Err: err}
	}

	line := make([]byte, len(cred)+1)
	copy(line, cred)
	line[len(cred)] = '\n'
	sendErr := ch.Send(line)
	zero(line)
	zero(cred)
	if sendErr != nil {
		return &TransportError{Op: "hop " + hop.Name + " auth", Err: sendErr}
	}

	res, err := s.waitFor(ctx, ch, m, "hop "+hop.Name+" auth", hop.timeout())
	if err != nil {
		return err
	}
	if res.Index == 0 {
		return &AuthError{Hop: hop.Name, Reason: "credential rejected (challenge repeated)"}
	}
	if rejected(hop.Auth.Reject, res.Prefix) || rejected(hop.Reject, res.Prefix) {
		return &AuthError{Hop: hop.Name, Reason: "credential rejected"}
	}

	s.emit(EventHopAuthenticated, hop.Name, "[OK] credential accepted", 0, false)
	return nil
}

// failConnect tears down the attempt and records why it failed. If the
// attempt was already torn down by Disconnect, the state is left alone.
func (s *Session) failConnect(gen uint64, i int, hop Hop, err error) error {
	if !s.teardown(gen) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.states.set(State{Phase: PhaseDisconnected}, "connect cancelled")
		return err
	}

	reason := FailTransport
	switch {
	case errors.Is(err, ErrAuth):
		reason = FailAuth
	case errors.Is(err, ErrPromptTimeout):
		reason = FailPromptTimeout
	}
	s.states.set(State{Phase: PhaseFailed, Reason: reason}, err.Error())
	log.Printf("[shell] session %s failed at hop %d (%s): %v", s.id, i, hop.Name, err)
	s.emit(EventHopFailed, hop.Name, fmt.Sprintf("[ERROR] %s: %s", hop.Name, reason), 0, true)
	return err
}

func rejected(re *regexp.Regexp, text string) bool {
	return re != nil && re.MatchString(text)
}

// matchedLine returns the first line of text that re matches, trimmed, or
// "" when nothing matches.
func matchedLine(re *regexp.Regexp, text string) string {
	if re == nil {
		return ""
	}
	for _, l := range strings.Split(text, "\n") {
		if re.MatchString(l) {
			return strings.TrimSpace(l)
		}
	}
	return ""
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
