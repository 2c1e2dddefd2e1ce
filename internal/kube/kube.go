package kube

import (
	"context"
	"fmt"

	"github.com/gluk-w/hopshell/internal/logutil"
	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/shell"
)

// Runner is the part of *shell.Session the operations use.
type Runner interface {
	Run(ctx context.Context, cmd sanitize.CommandLine) (*shell.Output, error)
	Stream(ctx context.Context, cmd sanitize.CommandLine) (*shell.Stream, error)
}

// allowedSubcommands is the read-only kubectl allow-list.
var allowedSubcommands = map[string]bool{
	"get":      true,
	"describe": true,
	"logs":     true,
	"top":      true,
}

// CommandError reports a kubectl command that returned a non-zero exit
// status.
type CommandError struct {
	Command    string
	ExitStatus int
	Output     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitStatus, logutil.Truncate(firstLine(e.Output), 200))
}

// Client issues kubectl operations in one namespace.
type Client struct {
	runner    Runner
	namespace string
}

// New returns a Client for namespace. The namespace is validated once here
// and again whenever a command line is built.
func New(r Runner, namespace string) (*Client, error) {
	if _, err := sanitize.ValidateIdentifier(namespace); err != nil {
		return nil, fmt.Errorf("namespace: %w", err)
	}
	return &Client{runner: r, namespace: namespace}, nil
}

// Namespace returns the client's namespace.
func (c *Client) Namespace() string { return c.namespace }

// kubectl builds "kubectl <sub> <args...> -n <namespace>" for an
// allow-listed subcommand.
func (c *Client) kubectl(sub string, args ...sanitize.Arg) (sanitize.CommandLine, error) {
	if !allowedSubcommands[sub] {
		return sanitize.CommandLine{}, fmt.Errorf("kubectl %s is not an allowed operation", logutil.SanitizeForLog(sub))
	}
	args = append(args, sanitize.Flag("-n"), sanitize.Identifier("namespace", c.namespace))
	return sanitize.Command("kubectl "+sub, args...)
}

// run executes cmd and turns a non-zero exit status into *CommandError.
func (c *Client) run(ctx context.Context, cmd sanitize.CommandLine) (*shell.Output, error) {
	out, err := c.runner.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if out.ExitStatus != 0 {
		return out, &CommandError{Command: cmd.String(), ExitStatus: out.ExitStatus, Output: out.Text}
	}
	return out, nil
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
