package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/gluk-w/hopshell/internal/audit"
	"github.com/gluk-w/hopshell/internal/config"
	"github.com/gluk-w/hopshell/internal/database"
	"github.com/gluk-w/hopshell/internal/kube"
	"github.com/gluk-w/hopshell/internal/shell"
)

// connection is a session with its kube client and the resources behind
// them.
type connection struct {
	rt      *config.Runtime
	session *shell.Session
	kube    *kube.Client
	auditor *audit.Auditor
}

// openConnection builds a disconnected session from config.Cfg. Audit
// records are written when the database can be opened.
func openConnection(stderr io.Writer, sinks ...shell.EventSink) (*connection, error) {
	rt, err := config.Cfg.Runtime(promptCredential(stderr, os.Stdin))
	if err != nil {
		return nil, err
	}

	c := &connection{rt: rt}
	opts := []shell.Option{
		shell.WithDialer(rt.Dialer),
		shell.WithRateLimiter(shell.NewRateLimiter()),
		shell.WithSink(shell.LogSink{}),
	}
	if err := database.Init(); err != nil {
		log.Printf("[cli] audit disabled: %v", err)
	} else {
		c.auditor = audit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
		opts = append(opts, shell.WithSink(c.auditor))
	}
	for _, sink := range sinks {
		opts = append(opts, shell.WithSink(sink))
	}

	c.session, err = shell.New(rt.Shell, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.kube, err = kube.New(c.session, rt.Shell.Namespace)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// connect opens a connection and walks the hop chain, reporting progress on
// stderr.
func connect(ctx context.Context, stderr io.Writer) (*connection, error) {
	c, err := openConnection(stderr)
	if err != nil {
		return nil, err
	}
	c.session.OnStateChange(func(_, to shell.State) {
		fmt.Fprintf(stderr, "-> %s\n", to)
	})
	if err := c.session.Connect(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

func (c *connection) Close() {
	if c.session != nil {
		if err := c.session.Disconnect(); err != nil {
			log.Printf("[cli] disconnect: %v", err)
		}
	}
	if err := c.rt.Close(); err != nil {
		log.Printf("[cli] close runtime: %v", err)
	}
	if c.auditor != nil {
		database.Close()
	}
}

// promptCredential asks for a hop's password on the controlling terminal.
// Nothing is cached; the session zeroes the returned bytes after use.
func promptCredential(w io.Writer, in *os.File) shell.CredentialFunc {
	return func(_ context.Context, hop shell.Hop) ([]byte, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return nil, fmt.Errorf("hop %s asks for a password but stdin is not a terminal", hop.Name)
		}
		fmt.Fprintf(w, "Password for %s: ", hop.Name)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		return pw, nil
	}
}
