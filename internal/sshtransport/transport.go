package sshtransport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ErrClosed is reported by a channel that was closed locally.
var ErrClosed = errors.New("channel closed")

// ErrRemoteExited is reported when the remote shell ended the session.
var ErrRemoteExited = errors.New("remote shell exited")

// Endpoint is the first hop's network address and login user.
type Endpoint struct {
	Host string
	Port int
	User string
}

// Addr returns host:port, defaulting the port to 22.
func (e Endpoint) Addr() string {
	port := e.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(port))
}

func (e Endpoint) String() string {
	if e.User == "" {
		return e.Addr()
	}
	return e.User + "@" + e.Addr()
}

// Auth carries borrowed credentials for a single Dial.
type Auth struct {
	// Signers are private keys owned by the caller.
	Signers []ssh.Signer
	// Agent, if set, is consulted for additional signers.
	Agent agent.Agent
	// HostKeyCallback verifies the server's host key. It is required.
	HostKeyCallback ssh.HostKeyCallback
}

// PTYOptions configures the remote pseudo-terminal.
type PTYOptions struct {
	Term string
	Cols int
	Rows int
}

const (
	defaultTerm = "xterm"
	// Wide enough that typical kubectl output never wraps, which would
	// otherwise split a prompt across visual lines.
	defaultCols = 500
	defaultRows = 40
)

func (o PTYOptions) withDefaults() PTYOptions {
	if o.Term == "" {
		o.Term = defaultTerm
	}
	if o.Cols <= 0 {
		o.Cols = defaultCols
	}
	if o.Rows <= 0 {
		o.Rows = defaultRows
	}
	return o
}

// Dialer opens transports to the first hop.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, auth Auth) (Transport, error)
}

// Transport is one authenticated connection.
type Transport interface {
	// OpenPTY allocates a remote pseudo-terminal and starts the login shell.
	OpenPTY(ctx context.Context, opts PTYOptions) (Channel, error)
	// Close tears down the connection. It is idempotent.
	Close() error
}

// Channel is an interactive character stream.
type Channel interface {
	// Send writes p to the remote terminal.
	Send(p []byte) error
	// Recv returns the bytes received since the previous call. It never
	// blocks and returns nil when nothing is pending.
	Recv() []byte
	// Ready is signaled when Recv may return data.
	Ready() <-chan struct{}
	// Done is closed once the channel has ended for any reason.
	Done() <-chan struct{}
	// Err reports why the channel ended, or nil while it is open.
	Err() error
	// Close releases the remote PTY. It is idempotent.
	Close() error
}

// AuthError is returned when the first hop rejects the presented
// credentials or its host key fails verification.
type AuthError struct {
	Endpoint string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication to %s failed: %v", e.Endpoint, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError is returned for connection-level failures.
type NetworkError struct {
	Op       string
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
