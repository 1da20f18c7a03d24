// Package topic implements matching of delimited topic strings against
// subscription patterns. A pattern is a literal topic ("entity.created"),
// a tail wildcard ("entity.*"), or the universal wildcard ("*"). Wildcards
// cover whole trailing segments only; partial in-segment wildcards such as
// "ent*" are not supported.
//
// All functions are pure. The delimiter is configurable so the same matcher
// serves both dot-delimited and colon-delimited topic schemes.
package topic

import (
	"fmt"
	"strings"
)

const (
	// DefaultDelimiter separates topic segments unless a caller chooses
	// another scheme.
	DefaultDelimiter = "."

	// Wildcard is the segment that matches any trailing segments, and, on
	// its own, any topic.
	Wildcard = "*"
)

// Matches reports whether pattern matches topic using the default delimiter.
func Matches(pattern, topic string) bool {
	return MatchesDelim(pattern, topic, DefaultDelimiter)
}

// MatchesDelim reports whether pattern matches topic with the given segment
// delimiter. A tail-wildcard pattern "a.b.*" matches "a.b" itself and every
// topic under it ("a.b.c", "a.b.c.d", ...), but not "a.bx".
func MatchesDelim(pattern, topic, delim string) bool {
	if pattern == topic {
		return true
	}
	if pattern == Wildcard {
		return true
	}

	suffix := delim + Wildcard
	if !strings.HasSuffix(pattern, suffix) {
		return false
	}

	prefix := strings.TrimSuffix(pattern, suffix)
	return topic == prefix || strings.HasPrefix(topic, prefix+delim)
}

// Candidates returns every pattern that could match topic: the literal topic,
// each wildcard ancestor ("a.*", "a.b.*", ...), and the universal wildcard.
// The dispatcher uses this set for registry lookup so that routing cost is
// bounded by topic depth rather than subscription count.
func Candidates(topic string) []string {
	return CandidatesDelim(topic, DefaultDelimiter)
}

// CandidatesDelim is Candidates with an explicit segment delimiter.
func CandidatesDelim(topic, delim string) []string {
	segments := strings.Split(topic, delim)

	out := make([]string, 0, len(segments)+2)
	out = append(out, topic)
	for k := 1; k <= len(segments); k++ {
		out = append(out, strings.Join(segments[:k], delim)+delim+Wildcard)
	}
	out = append(out, Wildcard)
	return out
}

// Validate checks that pattern is well formed under the default delimiter.
func Validate(pattern string) error {
	return ValidateDelim(pattern, DefaultDelimiter)
}

// ValidateDelim checks that pattern is a literal topic, a tail-wildcard
// pattern, or the universal wildcard. Malformed patterns can never match a
// topic and would silently strand a subscription, so subscribe paths reject
// them up front.
func ValidateDelim(pattern, delim string) error {
	if pattern == "" {
		return fmt.Errorf("topic: empty pattern")
	}
	if pattern == Wildcard {
		return nil
	}

	segments := strings.Split(pattern, delim)
	for i, seg := range segments {
		switch {
		case seg == "":
			return fmt.Errorf("topic: pattern %q has an empty segment", pattern)
		case seg == Wildcard && i != len(segments)-1:
			return fmt.Errorf("topic: pattern %q uses %q before the final segment", pattern, Wildcard)
		case seg != Wildcard && strings.Contains(seg, Wildcard):
			return fmt.Errorf("topic: pattern %q uses a partial wildcard segment %q", pattern, seg)
		}
	}
	return nil
}
