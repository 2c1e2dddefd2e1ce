package sshtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/gluk-w/hopshell/internal/sshkeys"
)

const (
	// DefaultConnectTimeout bounds TCP connect plus SSH handshake.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultKeepaliveInterval is how often keepalive requests are sent.
	DefaultKeepaliveInterval = 30 * time.Second

	readChunkSize = 32 * 1024
)

// SSHDialer dials real SSH connections.
type SSHDialer struct {
	// ConnectTimeout bounds dial plus handshake. Zero uses
	// DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// KeepaliveInterval is the keepalive period. Zero uses
	// DefaultKeepaliveInterval; negative disables keepalives.
	KeepaliveInterval time.Duration
}

// DialAgent connects to the ssh-agent listening on socket. The caller owns
// the returned closer and must keep it open while the agent is in use.
func DialAgent(socket string) (agent.ExtendedAgent, io.Closer, error) {
	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ssh agent: %w", err)
	}
	return agent.NewClient(conn), conn, nil
}

// Dial connects and authenticates to ep.
func (d *SSHDialer) Dial(ctx context.Context, ep Endpoint, auth Auth) (Transport, error) {
	if auth.HostKeyCallback == nil {
		return nil, errors.New("dial: host key callback is required")
	}
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	cfg := &ssh.ClientConfig{
		User:            ep.User,
		Auth:            authMethods(auth),
		HostKeyCallback: auth.HostKeyCallback,
		Timeout:         timeout,
	}

	addr := ep.Addr()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, &NetworkError{Op: "dial", Endpoint: addr, Err: err}
	}

	// Bound the handshake by the same deadline; NewClientConn has no
	// context parameter.
	if deadline, ok := dialCtx.Deadline(); ok {
		netConn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, classifyHandshakeError(ep, err)
	}
	netConn.SetDeadline(time.Time{})

	client := ssh.NewClient(sshConn, chans, reqs)
	t := &sshTransport{
		client:   client,
		endpoint: ep.String(),
		stop:     make(chan struct{}),
	}

	interval := d.KeepaliveInterval
	if interval == 0 {
		interval = DefaultKeepaliveInterval
	}
	if interval > 0 {
		go t.keepalive(interval)
	}

	log.Printf("[sshtransport] connected to %s", ep.Addr())
	return t, nil
}

// authMethods merges borrowed signers and agent signers into a single
// publickey method; the client only attempts each method name once.
func authMethods(auth Auth) []ssh.AuthMethod {
	signers := auth.Signers
	ag := auth.Agent
	return []ssh.AuthMethod{
		ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			out := append([]ssh.Signer(nil), signers...)
			if ag != nil {
				agentSigners, err := ag.Signers()
				if err != nil {
					log.Printf("[sshtransport] ssh agent unavailable: %v", err)
				} else {
					out = append(out, agentSigners...)
				}
			}
			return out, nil
		}),
	}
}

func classifyHandshakeError(ep Endpoint, err error) error {
	var (
		mismatch *sshkeys.FingerprintMismatchError
		unknown  *sshkeys.UnknownHostError
		keyErr   *knownhosts.KeyError
	)
	switch {
	case errors.As(err, &mismatch), errors.As(err, &unknown), errors.As(err, &keyErr):
		return &AuthError{Endpoint: ep.String(), Err: err}
	case strings.Contains(err.Error(), "unable to authenticate"),
		strings.Contains(err.Error(), "not in known_hosts"),
		strings.Contains(err.Error(), "fingerprint mismatch"),
		strings.Contains(err.Error(), "knownhosts:"):
		return &AuthError{Endpoint: ep.String(), Err: err}
	default:
		return &NetworkError{Op: "ssh handshake", Endpoint: ep.Addr(), Err: err}
	}
}

type sshTransport struct {
	client   *ssh.Client
	endpoint string

	closeOnce sync.Once
	closeErr  error
	stop      chan struct{}
}

// keepalive sends periodic keepalive requests to detect dead connections.
// A failed keepalive closes the client, which ends every open channel.
func (t *sshTransport) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				log.Printf("[sshtransport] keepalive to %s failed: %v, closing connection", t.endpoint, err)
				t.Close()
				return
			}
		}
	}
}

func (t *sshTransport) OpenPTY(ctx context.Context, opts PTYOptions) (Channel, error) {
	opts = opts.withDefaults()

	session, err := t.client.NewSession()
	if err != nil {
		return nil, &NetworkError{Op: "create ssh session", Err: err}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, &NetworkError{Op: "request pty", Err: err}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, &NetworkError{Op: "start shell", Err: err}
	}

	if err := ctx.Err(); err != nil {
		session.Close()
		return nil, err
	}

	ch := &ptyChannel{
		session: session,
		stdin:   stdin,
		buf:     newPendingBuffer(maxPending),
	}
	go ch.pump(stdout)
	return ch, nil
}

func (t *sshTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		if err := t.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			t.closeErr = fmt.Errorf("close ssh connection: %w", err)
		}
		log.Printf("[sshtransport] disconnected from %s", t.endpoint)
	})
	return t.closeErr
}

type ptyChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	buf     *pendingBuffer

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// pump drains the PTY into the pending buffer until the remote end closes
// or the channel is closed locally.
func (c *ptyChannel) pump(stdout io.Reader) {
	chunk := make([]byte, readChunkSize)
	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			c.buf.write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.buf.close(ErrRemoteExited)
			} else {
				c.buf.close(&NetworkError{Op: "read", Err: err})
			}
			return
		}
	}
}

func (c *ptyChannel) Send(p []byte) error {
	select {
	case <-c.buf.done:
		return c.buf.error()
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.stdin.Write(p); err != nil {
		return &NetworkError{Op: "write", Err: err}
	}
	return nil
}

func (c *ptyChannel) Recv() []byte           { return c.buf.take() }
func (c *ptyChannel) Ready() <-chan struct{} { return c.buf.notify }
func (c *ptyChannel) Done() <-chan struct{}  { return c.buf.done }
func (c *ptyChannel) Err() error             { return c.buf.error() }

func (c *ptyChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.buf.close(ErrClosed)
		if cerr := c.session.Close(); cerr != nil && !errors.Is(cerr, io.EOF) {
			err = fmt.Errorf("close pty session: %w", cerr)
		}
	})
	return err
}
