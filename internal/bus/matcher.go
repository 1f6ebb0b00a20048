package bus

import (
	"fmt"
	"regexp"
	"strings"
)

// Wildcard tokens in topic patterns.
const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
	topicSeparator      = "/"
)

// Matcher tests concrete topics against a compiled wildcard pattern.
//
// Construction rule:
//   - each + becomes "exactly one non-/ segment"
//   - a trailing # becomes "one or more remaining segments"
//   - every other character matches literally
//   - the whole pattern must match the whole topic
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// IsWildcard reports whether pattern must be matched structurally.
// A pattern is a wildcard pattern if it contains + or ends with #.
func IsWildcard(pattern string) bool {
	return strings.Contains(pattern, singleLevelWildcard) || strings.HasSuffix(pattern, multiLevelWildcard)
}

// ValidatePattern rejects patterns the matcher cannot honour.
//
// # is only legal as the whole final segment ("#" or "a/b/#").
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return ErrInvalidTopic
	}

	idx := strings.Index(pattern, multiLevelWildcard)
	if idx < 0 {
		return nil
	}
	if idx != len(pattern)-1 {
		return fmt.Errorf("%w: %q: # must be the final token", ErrConfiguration, pattern)
	}
	if idx > 0 && pattern[idx-1:idx] != topicSeparator {
		return fmt.Errorf("%w: %q: # must occupy a whole segment", ErrConfiguration, pattern)
	}
	return nil
}

// CompileMatcher builds a Matcher for pattern.
//
// Returns:
//   - *Matcher: matcher anchored at both ends
//   - error: ErrConfiguration if the pattern is malformed
func CompileMatcher(pattern string) (*Matcher, error) {
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	body := pattern
	tail := ""
	if strings.HasSuffix(body, multiLevelWildcard) {
		body = strings.TrimSuffix(body, multiLevelWildcard)
		tail = ".+"
	}

	parts := strings.Split(body, singleLevelWildcard)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, "[^/]+") + tail + "$"

	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrConfiguration, pattern, err)
	}

	return &Matcher{pattern: pattern, re: re}, nil
}

// Matches reports whether topic is accepted by the pattern.
func (m *Matcher) Matches(topic string) bool {
	return m.re.MatchString(topic)
}

// Pattern returns the source pattern.
func (m *Matcher) Pattern() string {
	return m.pattern
}
