package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern decides whether a visual line ends with a shell prompt.
type Pattern interface {
	// MatchTail returns the index in line where the prompt starts, or -1.
	MatchTail(line string) int
	String() string
}

type suffixPattern struct {
	lit string
}

// Suffix matches lines ending with the literal lit, e.g. "jump$ ".
func Suffix(lit string) Pattern {
	return suffixPattern{lit: lit}
}

func (p suffixPattern) MatchTail(line string) int {
	if p.lit == "" || !strings.HasSuffix(line, p.lit) {
		return -1
	}
	return len(line) - len(p.lit)
}

func (p suffixPattern) String() string { return fmt.Sprintf("suffix(%q)", p.lit) }

type regexpPattern struct {
	expr string
	re   *regexp.Regexp
}

// Regexp matches lines whose tail matches expr. The expression is anchored
// at the end of the line.
func Regexp(expr string) (Pattern, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty prompt expression")
	}
	re, err := regexp.Compile("(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile prompt expression %q: %w", expr, err)
	}
	return regexpPattern{expr: expr, re: re}, nil
}

// MustRegexp is Regexp for package-level defaults.
func MustRegexp(expr string) Pattern {
	p, err := Regexp(expr)
	if err != nil {
		panic(err)
	}
	return p
}

func (p regexpPattern) MatchTail(line string) int {
	loc := p.re.FindStringIndex(line)
	if loc == nil {
		return -1
	}
	return loc[0]
}

func (p regexpPattern) String() string { return fmt.Sprintf("regexp(%q)", p.expr) }

// DefaultPatterns are generic bash/sh prompt endings: "$" or "#", "]$" and
// ">", each optionally followed by whitespace.
func DefaultPatterns() []Pattern {
	return []Pattern{
		MustRegexp(`[$#]\s*`),
		MustRegexp(`\]\$\s*`),
		MustRegexp(`>\s*`),
	}
}
