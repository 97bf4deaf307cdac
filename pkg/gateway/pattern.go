package gateway

import (
	"strings"
)

// segKind distinguishes pattern segment types.
type segKind int

const (
	segLiteral segKind = iota
	segParam           // :name, captures one segment
	segWildcard        // *name, captures the remainder (may be empty)
)

type segment struct {
	kind segKind
	text string // literal text or capture name
}

// pattern is a compiled path pattern: literal segments, :name captures one
// segment, *name captures the remainder.
type pattern struct {
	raw      string
	segments []segment
}

// compilePattern parses a route path. The validator has already checked the
// grammar, so this cannot fail on loaded config.
func compilePattern(raw string) pattern {
	parts := strings.Split(strings.TrimPrefix(raw, "/"), "/")
	segments := make([]segment, 0, len(parts))
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			segments = append(segments, segment{kind: segParam, text: part[1:]})
		case strings.HasPrefix(part, "*"):
			segments = append(segments, segment{kind: segWildcard, text: part[1:]})
		default:
			segments = append(segments, segment{kind: segLiteral, text: part})
		}
	}
	return pattern{raw: raw, segments: segments}
}

// match tests a request path against the pattern and returns the captured
// path parameters.
func (p pattern) match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	params := map[string]string{}

	for i, seg := range p.segments {
		switch seg.kind {
		case segWildcard:
			// Captures everything left, including the empty string.
			rest := ""
			if i < len(parts) {
				rest = strings.Join(parts[i:], "/")
			}
			params[seg.text] = rest
			return params, true
		case segParam:
			if i >= len(parts) || parts[i] == "" {
				return nil, false
			}
			params[seg.text] = parts[i]
		case segLiteral:
			if i >= len(parts) || parts[i] != seg.text {
				return nil, false
			}
		}
	}

	if len(parts) != len(p.segments) {
		return nil, false
	}
	return params, true
}
