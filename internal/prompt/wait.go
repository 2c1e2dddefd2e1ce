package prompt

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	// DefaultQuietInterval is how long the stream must be silent before a
	// tail match is trusted.
	DefaultQuietInterval = 250 * time.Millisecond

	// diagnosticTail bounds the buffer excerpt carried by TimeoutError.
	diagnosticTail = 2048
)

// ErrSourceClosed is returned when the byte source ends while waiting.
var ErrSourceClosed = errors.New("prompt source closed")

// Source is the receive side of an interactive channel.
type Source interface {
	// Recv returns bytes received since the previous call. It never blocks
	// and may return nil.
	Recv() []byte
	// Ready is signaled when new bytes may be available.
	Ready() <-chan struct{}
	// Done is closed when the source has ended.
	Done() <-chan struct{}
	// Err reports why the source ended.
	Err() error
}

// TimeoutError is returned when no pattern matched in time. Buffer holds the
// normalized tail of what was received, for diagnostics.
type TimeoutError struct {
	Timeout  time.Duration
	Patterns []string
	Buffer   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no prompt matched %v within %s", e.Patterns, e.Timeout)
}

// WaitOptions configures Wait.
type WaitOptions struct {
	// Timeout bounds the whole wait. Zero means no bound besides ctx.
	Timeout time.Duration
	// QuietInterval is the silence required before matching. Zero uses
	// DefaultQuietInterval.
	QuietInterval time.Duration
	// OnData, if set, sees every received chunk as it arrives.
	OnData func(chunk []byte)
}

// Wait accumulates bytes from src onto buf until m matches the tail of the
// buffer after a quiet interval. It returns the match and the accumulated
// buffer. On timeout the error is a *TimeoutError; when the source ends the
// error wraps ErrSourceClosed and the source's own error.
func Wait(ctx context.Context, src Source, m *Matcher, buf []byte, opts WaitOptions) (MatchResult, []byte, error) {
	quiet := opts.QuietInterval
	if quiet <= 0 {
		quiet = DefaultQuietInterval
	}

	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		t := time.NewTimer(opts.Timeout)
		defer t.Stop()
		deadline = t.C
	}

	quietTimer := time.NewTimer(quiet)
	defer quietTimer.Stop()

	var lastData time.Time
	drain := func() bool {
		chunk := src.Recv()
		if len(chunk) == 0 {
			return false
		}
		lastData = time.Now()
		buf = append(buf, chunk...)
		if opts.OnData != nil {
			opts.OnData(chunk)
		}
		return true
	}

	drain()
	for {
		select {
		case <-ctx.Done():
			return MatchResult{Index: -1}, buf, ctx.Err()

		case <-deadline:
			// A prompt that has already been quiet long enough, but whose
			// quiet timer has not fired yet, still counts.
			if !drain() && time.Since(lastData) >= quiet {
				if res := m.Consume(buf); res.Found {
					return res, buf, nil
				}
			}
			return MatchResult{Index: -1}, buf, &TimeoutError{
				Timeout:  opts.Timeout,
				Patterns: patternNames(m),
				Buffer:   tail(Normalize(buf), diagnosticTail),
			}

		case <-src.Ready():
			if drain() {
				resetTimer(quietTimer, quiet)
			}

		case <-quietTimer.C:
			if drain() {
				resetTimer(quietTimer, quiet)
				continue
			}
			if res := m.Consume(buf); res.Found {
				return res, buf, nil
			}
			resetTimer(quietTimer, quiet)

		case <-src.Done():
			drain()
			return MatchResult{Index: -1}, buf, fmt.Errorf("%w: %v", ErrSourceClosed, src.Err())
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func patternNames(m *Matcher) []string {
	names := make([]string, 0, len(m.patterns))
	for _, p := range m.patterns {
		names = append(names, p.String())
	}
	return names
}

// tail returns at most the last n bytes of s, cut at a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}
