package kube

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/shell"
)

// LogOptions selects which logs StreamPodLogs shows.
type LogOptions struct {
	Follow     bool
	Tail       int
	Container  string
	Timestamps bool
}

// LogsCommand builds the kubectl logs command line for name.
func (c *Client) LogsCommand(name string, opts LogOptions) (sanitize.CommandLine, error) {
	args := []sanitize.Arg{sanitize.Identifier("pod name", name)}
	if opts.Container != "" {
		args = append(args, sanitize.Flag("-c"), sanitize.Identifier("container", opts.Container))
	}
	if opts.Follow {
		args = append(args, sanitize.Flag("-f"))
	}
	if opts.Tail < 0 {
		return sanitize.CommandLine{}, &sanitize.InvalidInputError{Field: "tail", Rule: sanitize.RuleCharset, Detail: "must not be negative"}
	}
	if opts.Tail > 0 {
		args = append(args, sanitize.Flag("--tail="+strconv.Itoa(opts.Tail)))
	}
	if opts.Timestamps {
		args = append(args, sanitize.Flag("--timestamps"))
	}
	return c.kubectl("logs", args...)
}

// StreamPodLogs starts streaming logs for name. The session stays busy
// until the returned stream ends or is cancelled.
func (c *Client) StreamPodLogs(ctx context.Context, name string, opts LogOptions) (*shell.Stream, error) {
	cmd, err := c.LogsCommand(name, opts)
	if err != nil {
		return nil, err
	}
	st, err := c.runner.Stream(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("stream logs: %w", err)
	}
	return st, nil
}
