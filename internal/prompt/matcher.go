package prompt

import (
	"bytes"
)

// MatchResult describes the outcome of one Consume call.
type MatchResult struct {
	// Found is true when the last visual line ends with a prompt.
	Found bool
	// Prefix is the normalized text before the prompt, including any part
	// of the prompt line the pattern did not cover (e.g. "svc@" for a
	// Suffix("internal# ") match on "svc@internal# ").
	Prefix string
	// Head is Prefix without the prompt line: the completed lines only.
	Head string
	// Prompt is the matched prompt text.
	Prompt string
	// Consumed is the number of raw bytes the match accounts for. Because
	// prompts are only matched at the tail this is len(buf) or 0.
	Consumed int
	// Index is the position of the matching pattern in the matcher's list.
	Index int
	// Pattern is the pattern that matched.
	Pattern Pattern
}

// Matcher matches the tail of a buffer against a set of patterns. Patterns
// are tried in order; the first match wins.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher returns a Matcher for the given patterns.
func NewMatcher(patterns ...Pattern) *Matcher {
	return &Matcher{patterns: append([]Pattern(nil), patterns...)}
}

// Patterns returns the matcher's patterns.
func (m *Matcher) Patterns() []Pattern {
	return append([]Pattern(nil), m.patterns...)
}

// Consume reports whether buf, everything received since the last command
// was issued, currently ends with a prompt.
func (m *Matcher) Consume(buf []byte) MatchResult {
	if len(buf) == 0 || len(m.patterns) == 0 {
		return MatchResult{Index: -1}
	}

	// Only the last raw line can hold the prompt; normalize just that for
	// the check and the whole buffer only on a hit.
	tailStart := bytes.LastIndexByte(buf, '\n') + 1
	last := Normalize(buf[tailStart:])

	for i, p := range m.patterns {
		idx := p.MatchTail(last)
		if idx < 0 {
			continue
		}
		head := Normalize(buf[:tailStart])
		return MatchResult{
			Found:    true,
			Prefix:   head + last[:idx],
			Head:     head,
			Prompt:   last[idx:],
			Consumed: len(buf),
			Index:    i,
			Pattern:  p,
		}
	}
	return MatchResult{Index: -1}
}
