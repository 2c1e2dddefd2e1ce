package shell

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/gluk-w/hopshell/internal/prompt"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultHopTimeout     = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultCancelTimeout  = 5 * time.Second
	DefaultStatusCommand  = "echo $?"
)

// HopKind says how a hop is entered.
type HopKind int

const (
	// HopConnect opens the transport and PTY to the first host.
	HopConnect HopKind = iota
	// HopLogin runs a nested login (e.g. ssh) from the previous hop.
	HopLogin
	// HopElevate switches user context (e.g. sudo su -).
	HopElevate
)

func (k HopKind) String() string {
	switch k {
	case HopConnect:
		return "connect"
	case HopLogin:
		return "login"
	case HopElevate:
		return "elevate"
	default:
		return "unknown"
	}
}

// ParseHopKind parses the String form of a HopKind.
func ParseHopKind(s string) (HopKind, error) {
	switch s {
	case "connect":
		return HopConnect, nil
	case "login":
		return HopLogin, nil
	case "elevate":
		return HopElevate, nil
	}
	return 0, fmt.Errorf("unknown hop kind %q", s)
}

// AuthChallenge describes an interactive credential prompt a hop may show,
// e.g. "[sudo] password for ops: ".
type AuthChallenge struct {
	// Prompt matches the challenge at the tail of the output.
	Prompt prompt.Pattern
	// Reject, if set, matches output that means the credential was refused
	// ("Sorry, try again.", "Permission denied").
	Reject *regexp.Regexp
}

// Hop is one immutable step of the hop chain.
type Hop struct {
	Kind HopKind
	Name string
	// Endpoint is dialed by a HopConnect hop.
	Endpoint sshtransport.Endpoint
	// Command is written to the previous hop's shell by Login and Elevate
	// hops. It comes from configuration, never from user input.
	Command string
	// Prompts are the acceptable prompts of this hop's shell.
	Prompts []prompt.Pattern
	// Timeout bounds the wait for Prompts. Zero uses DefaultHopTimeout.
	Timeout time.Duration
	// Auth, if set, is the credential challenge this hop may present.
	Auth *AuthChallenge
	// Reject, if set, matches output that means the hop refused the login
	// (e.g. "Permission denied (publickey)") even if a prompt followed.
	Reject *regexp.Regexp
	// Unreachable, if set, matches output that means the hop's host could
	// not be reached ("Connection refused"). It is a transport failure, not
	// an authentication one.
	Unreachable *regexp.Regexp
}

func (h Hop) timeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return DefaultHopTimeout
}

// CredentialFunc supplies the credential for a hop's auth challenge. The
// returned slice is zeroed after it is written to the terminal, so callers
// should return a copy.
type CredentialFunc func(ctx context.Context, hop Hop) ([]byte, error)

// Config is the immutable configuration of a Session.
type Config struct {
	Hops []Hop
	// ReadyPrompts mark the idle prompt of the final hop. Empty means the
	// last hop's Prompts.
	ReadyPrompts []prompt.Pattern
	// QuietInterval is the silence required before a tail match is
	// trusted. Zero uses prompt.DefaultQuietInterval.
	QuietInterval  time.Duration
	CommandTimeout time.Duration
	// CancelTimeout bounds the wait for the prompt after an interrupt.
	CancelTimeout time.Duration
	// StatusCommand prints the exit status of the previous command.
	StatusCommand string
	// DisableHopRetry turns off the single nudge-and-wait retry after a
	// hop prompt timeout.
	DisableHopRetry bool
	PTY             sshtransport.PTYOptions
	// Auth carries borrowed key material for the first hop.
	Auth        sshtransport.Auth
	Credentials CredentialFunc
	// Namespace is the target context string passed to callers such as
	// the kube operations; the session itself does not interpret it.
	Namespace string
}

// Validate checks the hop chain shape.
func (c Config) Validate() error {
	if len(c.Hops) == 0 {
		return errors.New("config: at least one hop is required")
	}
	for i, h := range c.Hops {
		if i == 0 && h.Kind != HopConnect {
			return fmt.Errorf("config: hop 0 (%s) must be a connect hop", h.Name)
		}
		if i > 0 && h.Kind == HopConnect {
			return fmt.Errorf("config: hop %d (%s): only hop 0 may be a connect hop", i, h.Name)
		}
		if i > 0 && h.Command == "" {
			return fmt.Errorf("config: hop %d (%s) has no command", i, h.Name)
		}
		if len(h.Prompts) == 0 {
			return fmt.Errorf("config: hop %d (%s) has no prompts", i, h.Name)
		}
		if h.Auth != nil && h.Auth.Prompt == nil {
			return fmt.Errorf("config: hop %d (%s) auth challenge has no prompt", i, h.Name)
		}
	}
	if c.Hops[0].Endpoint.Host == "" {
		return errors.New("config: connect hop has no host")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if len(c.ReadyPrompts) == 0 && len(c.Hops) > 0 {
		c.ReadyPrompts = c.Hops[len(c.Hops)-1].Prompts
	}
	if c.QuietInterval <= 0 {
		c.QuietInterval = prompt.DefaultQuietInterval
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.CancelTimeout <= 0 {
		c.CancelTimeout = DefaultCancelTimeout
	}
	if c.StatusCommand == "" {
		c.StatusCommand = DefaultStatusCommand
	}
	return c
}
