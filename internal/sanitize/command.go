package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	verbWord   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	flagSyntax = regexp.MustCompile(`^-{0,2}[A-Za-z0-9][A-Za-z0-9._/=:,-]*$`)
)

type argKind int

const (
	argIdentifier argKind = iota
	argToken
	argFlag
)

// Arg is one argument of a CommandLine. Build it with Identifier, Token or
// Flag so the right grammar is applied when the line is assembled.
type Arg struct {
	kind  argKind
	field string
	value string
}

// Identifier is an argument validated with the identifier grammar.
// field names the argument in error messages (e.g. "pod name").
func Identifier(field, value string) Arg {
	return Arg{kind: argIdentifier, field: field, value: value}
}

// Token is an argument validated with the search-token grammar.
func Token(field, value string) Arg {
	return Arg{kind: argToken, field: field, value: value}
}

// Flag is a literal option from the caller's allow-list, e.g.
// "--field-selector=status.phase=Running". "--" alone is accepted.
func Flag(value string) Arg {
	return Arg{kind: argFlag, field: "flag", value: value}
}

func (a Arg) render() (string, error) {
	switch a.kind {
	case argIdentifier:
		return validateIdentifier(a.field, a.value)
	case argToken:
		return validateSearchToken(a.field, a.value)
	case argFlag:
		if a.value == "--" || flagSyntax.MatchString(a.value) {
			return a.value, nil
		}
		return "", &InvalidInputError{Field: a.field, Rule: RuleFlagSyntax}
	default:
		return "", fmt.Errorf("unknown argument kind %d", a.kind)
	}
}

// CommandLine is a fully validated and escaped shell command line. The zero
// value is not submittable.
type CommandLine struct {
	line string
}

// String returns the command line as it will be written to the shell.
func (c CommandLine) String() string { return c.line }

// IsZero reports whether c was not produced by Command or Pipeline.
func (c CommandLine) IsZero() bool { return c.line == "" }

// Command validates verb and args and joins them into a CommandLine. verb is
// one or more space-separated lowercase words ("kubectl get pods").
func Command(verb string, args ...Arg) (CommandLine, error) {
	words := strings.Fields(verb)
	if len(words) == 0 {
		return CommandLine{}, &InvalidInputError{Field: "verb", Rule: RuleEmpty}
	}
	for _, w := range words {
		if !verbWord.MatchString(w) {
			return CommandLine{}, &InvalidInputError{Field: "verb", Rule: RuleVerbSyntax}
		}
	}
	parts := append([]string(nil), words...)
	for _, a := range args {
		s, err := a.render()
		if err != nil {
			return CommandLine{}, err
		}
		parts = append(parts, s)
	}
	return CommandLine{line: strings.Join(parts, " ")}, nil
}

// Pipeline joins validated command lines with '|'.
func Pipeline(stages ...CommandLine) (CommandLine, error) {
	if len(stages) == 0 {
		return CommandLine{}, &InvalidInputError{Field: "pipeline", Rule: RuleEmpty}
	}
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		if s.IsZero() {
			return CommandLine{}, &InvalidInputError{Field: "pipeline stage", Rule: RuleEmpty}
		}
		parts = append(parts, s.line)
	}
	return CommandLine{line: strings.Join(parts, " | ")}, nil
}

// MustCommand is Command for fixed, compile-time command lines. It panics
// on invalid input.
func MustCommand(verb string, args ...Arg) CommandLine {
	c, err := Command(verb, args...)
	if err != nil {
		panic(err)
	}
	return c
}
