package shell

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gluk-w/hopshell/internal/sanitize"
	"github.com/gluk-w/hopshell/internal/sshtransport"
)

// Output is the result of a one-shot command.
type Output struct {
	Command string `json:"command"`
	// Text is the normalized output between the echoed command line and
	// the returning prompt, with "\n" line endings.
	Text string `json:"text"`
	// ExitStatus is parsed from the status command; -1 when unparsable.
	ExitStatus int           `json:"exit_status"`
	Prompt     string        `json:"prompt"`
	Duration   time.Duration `json:"duration"`
}

// Lines splits Text into lines without the trailing empty element.
func (o *Output) Lines() []string {
	t := strings.TrimSuffix(o.Text, "\n")
	if t == "" {
		return nil
	}
	return strings.Split(t, "\n")
}

// RunCommand validates verb and args and runs the resulting command line.
// Invalid input is returned before anything reaches the remote shell.
func (s *Session) RunCommand(ctx context.Context, verb string, args ...sanitize.Arg) (*Output, error) {
	cmd, err := sanitize.Command(verb, args...)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, cmd)
}

// Run executes cmd and waits for the Ready prompt. The exit status is read
// with a second round trip of the configured status command.
//
// Errors: ErrNotReady, ErrBusy, *PromptTimeoutError or *TransportError. On
// a prompt timeout or context cancellation the command is interrupted; if
// the prompt does not return the session is aborted to Failed.
func (s *Session) Run(ctx context.Context, cmd sanitize.CommandLine) (*Output, error) {
	if cmd.IsZero() {
		return nil, &sanitize.InvalidInputError{Field: "command", Rule: sanitize.RuleEmpty}
	}
	ch, gen, err := s.acquireReady()
	if err != nil {
		return nil, err
	}
	defer s.release()

	line := cmd.String()
	start := time.Now()
	s.emit(EventCommandStarted, "", "[CMD] "+line, 0, false)

	text, promptText, err := s.roundTrip(ctx, ch, gen, line, s.cfg.CommandTimeout, "command")
	if err != nil {
		s.emit(EventCommandFailed, "", fmt.Sprintf("[ERROR] %s: %v", line, err), time.Since(start), true)
		return nil, err
	}

	statusText, _, err := s.roundTrip(ctx, ch, gen, s.cfg.StatusCommand, s.cfg.CommandTimeout, "status query")
	if err != nil {
		s.emit(EventCommandFailed, "", fmt.Sprintf("[ERROR] %s: status query: %v", line, err), time.Since(start), true)
		return nil, err
	}

	out := &Output{
		Command:    line,
		Text:       text,
		ExitStatus: parseExitStatus(statusText),
		Prompt:     promptText,
		Duration:   time.Since(start),
	}
	s.emit(EventCommandCompleted, "", fmt.Sprintf("[OK] %s (exit %d)", line, out.ExitStatus), out.Duration, false)
	return out, nil
}

// roundTrip writes line, waits for the Ready prompt and returns the output
// with the echoed line and the whole prompt line removed. A prompt pattern
// may cover only the end of its line, so everything after the last newline
// belongs to the prompt.
func (s *Session) roundTrip(ctx context.Context, ch sshtransport.Channel, gen uint64, line string, timeout time.Duration, stage string) (string, string, error) {
	s.drainStale(ch)
	if err := ch.Send([]byte(line + "\n")); err != nil {
		terr := &TransportError{Op: stage, Err: err}
		s.abort(gen, FailTransport, terr.Error())
		return "", "", terr
	}

	res, err := s.waitFor(ctx, ch, s.ready, stage, timeout)
	if err != nil {
		return "", "", s.recover(ch, gen, stage, err)
	}
	return stripEcho(res.Head, line), res.Prompt, nil
}

// recover restores a usable prompt after a failed wait. Transport errors
// abort the session; timeouts and cancellations are interrupted.
func (s *Session) recover(ch sshtransport.Channel, gen uint64, stage string, err error) error {
	if errors.Is(err, ErrTransport) {
		s.abort(gen, FailTransport, err.Error())
		return err
	}
	if ierr := s.interrupt(ch, gen, stage); ierr != nil {
		return errors.Join(err, ierr)
	}
	return err
}

// interrupt sends Ctrl-C and waits, bounded by CancelTimeout, for the Ready
// prompt. An unconfirmed interrupt aborts the session because the remote
// state is unknown.
func (s *Session) interrupt(ch sshtransport.Channel, gen uint64, stage string) error {
	s.emit(EventInterrupted, "", "[CMD] interrupt "+stage, 0, false)

	s.drainStale(ch)
	if err := ch.Send([]byte{0x03}); err != nil {
		terr := &TransportError{Op: stage + " interrupt", Err: err}
		s.abort(gen, FailTransport, terr.Error())
		return terr
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CancelTimeout)
	defer cancel()
	if _, err := s.waitFor(ctx, ch, s.ready, stage+" interrupt", s.cfg.CancelTimeout); err != nil {
		terr := &TransportError{Op: stage + " interrupt", Err: fmt.Errorf("%w: %v", ErrInterruptUnconfirmed, err)}
		s.abort(gen, FailTransport, terr.Error())
		return terr
	}
	s.drainStale(ch)
	return nil
}

// stripEcho removes the terminal's echo of line from the start of text.
func stripEcho(text, line string) string {
	first, rest, found := strings.Cut(text, "\n")
	trimmed := strings.TrimRight(first, " ")
	if trimmed != line && !strings.HasSuffix(trimmed, line) {
		return text
	}
	if !found {
		return ""
	}
	return rest
}

// parseExitStatus returns the first line of text that is a bare number, or
// -1 when there is none.
func parseExitStatus(text string) int {
	for _, l := range strings.Split(text, "\n") {
		if n, err := strconv.Atoi(strings.TrimSpace(l)); err == nil {
			return n
		}
	}
	return -1
}
