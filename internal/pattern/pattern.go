package pattern

import (
	"strings"
)

type kind int

const (
	kindExact kind = iota
	kindPrefixWildcard
	kindMatchAll
)

// Pattern is a parsed event-type pattern. Three forms exist:
//
//   - "*" matches every event type
//   - "ticket.*" matches any event type whose leading segment is "ticket"
//   - anything else matches the event type exactly
//
// Patterns are parsed once at endpoint load so matching never re-parses
// strings per event.
type Pattern struct {
	kind   kind
	exact  string
	prefix string
}

// Parse converts a raw pattern string into its matching form.
func Parse(raw string) Pattern {
	if raw == "*" {
		return Pattern{kind: kindMatchAll}
	}
	if strings.HasSuffix(raw, ".*") {
		head := strings.TrimSuffix(raw, ".*")
		// The wildcard only covers the leading segment; "a.b.*" still
		// keys off the text before the first dot.
		if i := strings.Index(head, "."); i >= 0 {
			head = head[:i]
		}
		return Pattern{kind: kindPrefixWildcard, prefix: head}
	}
	return Pattern{kind: kindExact, exact: raw}
}

// Match reports whether the pattern covers the given event type.
func (p Pattern) Match(eventType string) bool {
	switch p.kind {
	case kindMatchAll:
		return true
	case kindPrefixWildcard:
		head := eventType
		if i := strings.Index(eventType, "."); i >= 0 {
			head = eventType[:i]
		}
		return head == p.prefix
	default:
		return p.exact == eventType
	}
}

// ParseAll parses a list of raw patterns.
func ParseAll(raw []string) []Pattern {
	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		patterns = append(patterns, Parse(r))
	}
	return patterns
}

// MatchAny reports whether any of the raw patterns covers the event
// type. An endpoint is eligible for an event iff it is active, belongs
// to the event's org, and MatchAny over its subscriptions is true.
func MatchAny(raw []string, eventType string) bool {
	for _, r := range raw {
		if Parse(r).Match(eventType) {
			return true
		}
	}
	return false
}
