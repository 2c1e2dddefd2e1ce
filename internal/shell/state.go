// state.go implements lifecycle state tracking for a Session.
//
// A Session moves through Disconnected, Connecting(i), HopAuthenticating(i),
// Ready and Failed(reason). Transitions are recorded in a ring buffer
// (50 entries) for debugging, and registered callbacks are invoked on every
// change so a front-end can follow progress.

package shell

import (
	"fmt"
	"sync"
	"time"
)

// Phase is the coarse lifecycle phase of a session.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseHopAuthenticating
	PhaseReady
	PhaseFailed
)

// String returns the human-readable name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseHopAuthenticating:
		return "hop_authenticating"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailReason says why a session entered PhaseFailed.
type FailReason string

const (
	FailNone          FailReason = ""
	FailPromptTimeout FailReason = "prompt_timeout"
	FailTransport     FailReason = "transport_error"
	FailAuth          FailReason = "auth_error"
)

// State is a session's lifecycle state. Hop is meaningful for Connecting and
// HopAuthenticating; Reason for Failed.
type State struct {
	Phase  Phase      `json:"phase"`
	Hop    int        `json:"hop"`
	Reason FailReason `json:"reason,omitempty"`
}

func (s State) String() string {
	switch s.Phase {
	case PhaseConnecting, PhaseHopAuthenticating:
		return fmt.Sprintf("%s(%d)", s.Phase, s.Hop)
	case PhaseFailed:
		return fmt.Sprintf("%s(%s)", s.Phase, s.Reason)
	default:
		return s.Phase.String()
	}
}

// stateTransitionBufferSize is the maximum number of state transitions kept
// for debugging.
const stateTransitionBufferSize = 50

// StateTransition records a single state change.
type StateTransition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// StateChangeCallback is called when the session state changes. Callbacks
// are invoked synchronously; long-running handlers should spawn goroutines.
type StateChangeCallback func(from, to State)

type stateTracker struct {
	mu          sync.RWMutex
	current     State
	transitions [stateTransitionBufferSize]StateTransition
	head        int
	count       int
	callbacks   []StateChangeCallback
}

// record adds a transition to the ring buffer. Caller must hold st.mu.
func (st *stateTracker) record(from, to State, reason string) {
	st.transitions[st.head] = StateTransition{
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	}
	st.head = (st.head + 1) % stateTransitionBufferSize
	if st.count < stateTransitionBufferSize {
		st.count++
	}
}

// set updates the state, records the transition and invokes callbacks. An
// unchanged state is a no-op. It returns the previous state.
func (st *stateTracker) set(to State, reason string) State {
	st.mu.Lock()
	from := st.current
	if from == to {
		st.mu.Unlock()
		return from
	}
	st.current = to
	st.record(from, to, reason)

	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(from, to)
	}
	return from
}

// setIf is set guarded by ok, which is evaluated under the tracker's lock so
// that no other transition lands between the check and the update.
func (st *stateTracker) setIf(to State, reason string, ok func() bool) bool {
	st.mu.Lock()
	if !ok() {
		st.mu.Unlock()
		return false
	}
	from := st.current
	if from == to {
		st.mu.Unlock()
		return true
	}
	st.current = to
	st.record(from, to, reason)

	cbs := make([]StateChangeCallback, len(st.callbacks))
	copy(cbs, st.callbacks)
	st.mu.Unlock()

	for _, cb := range cbs {
		cb(from, to)
	}
	return true
}

func (st *stateTracker) get() State {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// history returns transitions oldest first.
func (st *stateTracker) history() []StateTransition {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.count == 0 {
		return nil
	}

	result := make([]StateTransition, st.count)
	if st.count < stateTransitionBufferSize {
		copy(result, st.transitions[:st.count])
	} else {
		n := copy(result, st.transitions[st.head:])
		copy(result[n:], st.transitions[:st.head])
	}
	return result
}

func (st *stateTracker) onChange(cb StateChangeCallback) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.callbacks = append(st.callbacks, cb)
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.states.get()
}

// Transitions returns up to the last 50 state transitions, oldest first.
func (s *Session) Transitions() []StateTransition {
	return s.states.history()
}

// OnStateChange registers a callback invoked on every state change.
func (s *Session) OnStateChange(cb StateChangeCallback) {
	s.states.onChange(cb)
}
