package manager

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher selects keys for invalidation.
type Matcher interface {
	Match(key string) bool
	String() string
}

// ExactMatcher matches a single key.
type ExactMatcher string

func (m ExactMatcher) Match(key string) bool { return string(m) == key }
func (m ExactMatcher) String() string        { return string(m) }

// PrefixMatcher matches keys starting with a prefix.
type PrefixMatcher string

func (m PrefixMatcher) Match(key string) bool { return strings.HasPrefix(key, string(m)) }
func (m PrefixMatcher) String() string        { return "prefix:" + string(m) }

// RegexMatcher matches keys against a regular expression.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles expr.
func NewRegexMatcher(expr string) (*RegexMatcher, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return &RegexMatcher{re: re}, nil
}

func (m *RegexMatcher) Match(key string) bool { return m.re.MatchString(key) }
func (m *RegexMatcher) String() string        { return "re:" + m.re.String() }

// KeySet matches exactly the keys it holds.
type KeySet map[string]struct{}

func (k KeySet) Match(key string) bool {
	_, ok := k[key]
	return ok
}

func (k KeySet) String() string { return fmt.Sprintf("keys(%d)", len(k)) }

// ParsePattern builds a Matcher from its string form:
//
//	re:<expr>      regular expression
//	prefix:<p>     key prefix
//	<p>*           key prefix, a lone * matches every key
//	anything else  exact key
func ParsePattern(pattern string) (Matcher, error) {
	switch {
	case pattern == "":
		return nil, fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
	case strings.HasPrefix(pattern, "re:"):
		expr := strings.TrimPrefix(pattern, "re:")
		if expr == "" {
			return nil, fmt.Errorf("%w: empty regular expression", ErrInvalidPattern)
		}
		m, err := NewRegexMatcher(expr)
		if err != nil {
			return nil, err
		}
		return m, nil
	case strings.HasPrefix(pattern, "prefix:"):
		p := strings.TrimPrefix(pattern, "prefix:")
		if p == "" {
			return nil, fmt.Errorf("%w: empty prefix", ErrInvalidPattern)
		}
		return PrefixMatcher(p), nil
	case strings.HasSuffix(pattern, "*"):
		p := strings.TrimSuffix(pattern, "*")
		if strings.Contains(p, "*") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
		}
		return PrefixMatcher(p), nil
	case strings.Contains(pattern, "*"):
		return nil, fmt.Errorf("%w: wildcard only allowed at the end of %q", ErrInvalidPattern, pattern)
	default:
		return ExactMatcher(pattern), nil
	}
}
