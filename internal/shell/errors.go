package shell

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	// ErrNotReady is returned when a command is issued outside the Ready
	// state.
	ErrNotReady = errors.New("session not ready")
	// ErrBusy is returned when another command already owns the session.
	// Requests are never queued.
	ErrBusy = errors.New("session busy")
	// ErrPromptTimeout matches *PromptTimeoutError.
	ErrPromptTimeout = errors.New("prompt timeout")
	// ErrTransport matches *TransportError.
	ErrTransport = errors.New("transport error")
	// ErrAuth matches *AuthError.
	ErrAuth = errors.New("authentication failed")
	// ErrAlreadyConnected is returned by Connect outside Disconnected and
	// Failed.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrInterruptUnconfirmed is wrapped when the prompt did not return
	// after an interrupt and the session was aborted.
	ErrInterruptUnconfirmed = errors.New("interrupt not confirmed by prompt")
)

// PromptTimeoutError reports that no expected prompt appeared in time.
// Buffer is a truncated, normalized excerpt of what was received; it never
// contains credentials because credentials are not echoed by the remote
// terminal.
type PromptTimeoutError struct {
	Stage      string
	Timeout    time.Duration
	Patterns   []string
	LastPrompt string
	Buffer     string
}

func (e *PromptTimeoutError) Error() string {
	return fmt.Sprintf("%s: no prompt matched within %s (last prompt %q)", e.Stage, e.Timeout, e.LastPrompt)
}

func (e *PromptTimeoutError) Is(target error) bool { return target == ErrPromptTimeout }

// TransportError reports that the underlying connection failed. The session
// is unusable afterwards and requires a full reconnect.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// AuthError reports that a hop rejected the presented credentials. It is
// never retried.
type AuthError struct {
	Hop    string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hop %s: authentication failed: %s: %v", e.Hop, e.Reason, e.Err)
	}
	return fmt.Sprintf("hop %s: authentication failed: %s", e.Hop, e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) Is(target error) bool { return target == ErrAuth }
