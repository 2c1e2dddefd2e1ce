package sanitize

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	// MaxIdentifierLen matches the DNS-1123 subdomain limit.
	MaxIdentifierLen = validation.DNS1123SubdomainMaxLength
	// MaxSearchTokenLen bounds grep keywords.
	MaxSearchTokenLen = 128
)

// ErrInvalidInput is matched by every *InvalidInputError via errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// Rule names the grammar rule a value violated.
type Rule string

const (
	RuleEmpty       Rule = "empty"
	RuleLeadingDash Rule = "leading_dash"
	RuleTooLong     Rule = "too_long"
	RuleCharset     Rule = "charset"
	RuleDNS1123     Rule = "dns1123_subdomain"
	RuleFlagSyntax  Rule = "flag_syntax"
	RuleVerbSyntax  Rule = "verb_syntax"
)

// InvalidInputError is returned when a value fails validation. It never
// carries the rejected value itself so it can be logged safely.
type InvalidInputError struct {
	Field  string
	Rule   Rule
	Detail string
}

func (e *InvalidInputError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid %s: %s (%s)", e.Field, e.Rule, e.Detail)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Rule)
}

// Is reports whether target is ErrInvalidInput.
func (e *InvalidInputError) Is(target error) bool {
	return target == ErrInvalidInput
}

var (
	identifierChars = regexp.MustCompile(`^[a-z0-9.-]+$`)
	tokenChars      = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidateIdentifier checks s against the identifier grammar and returns it
// shell-escaped.
func ValidateIdentifier(s string) (string, error) {
	return validateIdentifier("identifier", s)
}

func validateIdentifier(field, s string) (string, error) {
	switch {
	case s == "":
		return "", &InvalidInputError{Field: field, Rule: RuleEmpty}
	case strings.HasPrefix(s, "-"):
		return "", &InvalidInputError{Field: field, Rule: RuleLeadingDash}
	case len(s) > MaxIdentifierLen:
		return "", &InvalidInputError{Field: field, Rule: RuleTooLong, Detail: fmt.Sprintf("max %d", MaxIdentifierLen)}
	case !identifierChars.MatchString(s):
		return "", &InvalidInputError{Field: field, Rule: RuleCharset, Detail: "allowed: a-z 0-9 - ."}
	}
	if errs := validation.IsDNS1123Subdomain(s); len(errs) > 0 {
		return "", &InvalidInputError{Field: field, Rule: RuleDNS1123, Detail: "must start and end with an alphanumeric character"}
	}
	return Quote(s), nil
}

// ValidateSearchToken checks s against the search-token grammar and returns
// it shell-escaped.
func ValidateSearchToken(s string) (string, error) {
	return validateSearchToken("search token", s)
}

func validateSearchToken(field, s string) (string, error) {
	switch {
	case s == "":
		return "", &InvalidInputError{Field: field, Rule: RuleEmpty}
	case strings.HasPrefix(s, "-"):
		return "", &InvalidInputError{Field: field, Rule: RuleLeadingDash}
	case len(s) > MaxSearchTokenLen:
		return "", &InvalidInputError{Field: field, Rule: RuleTooLong, Detail: fmt.Sprintf("max %d", MaxSearchTokenLen)}
	case !tokenChars.MatchString(s):
		return "", &InvalidInputError{Field: field, Rule: RuleCharset, Detail: "allowed: A-Z a-z 0-9 _ - ."}
	}
	return Quote(s), nil
}

// Quote escapes s for a POSIX shell. Values made only of safe characters
// come back unchanged.
func Quote(s string) string {
	return shellquote.Join(s)
}
