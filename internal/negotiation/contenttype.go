package negotiation

import (
	"strings"
)

// ContentType is a parsed Content-Type or Accept media range. Application
// is lowercased, attribute keys are lowercased, attribute values keep
// their case.
type ContentType struct {
	Application string
	Attributes  map[string]string
}

// Attribute returns the attribute value for a lowercase key
func (c ContentType) Attribute(key string) (string, bool) {
	v, ok := c.Attributes[key]
	return v, ok
}

// Type returns the lowercased "type" attribute
func (c ContentType) Type() string {
	return strings.ToLower(c.Attributes["type"])
}

// ParseContentType parses "application; key=value; ..."
func ParseContentType(header string) ContentType {
	ct := ContentType{Attributes: make(map[string]string)}

	tokens := splitOutsideQuotes(header, ';')
	if len(tokens) == 0 {
		return ct
	}

	ct.Application = strings.ToLower(strings.TrimSpace(tokens[0]))

	for _, token := range tokens[1:] {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		ct.Attributes[key] = unquote(strings.TrimSpace(value))
	}

	return ct
}

// ParseAccept splits an Accept header into its media ranges, in order.
// An empty header yields no ranges.
func ParseAccept(header string) []ContentType {
	var ranges []ContentType
	for _, part := range splitOutsideQuotes(header, ',') {
		if strings.TrimSpace(part) == "" {
			continue
		}
		ranges = append(ranges, ParseContentType(part))
	}
	return ranges
}

// Negotiate tries each media range of the Accept header in order and
// returns the first accepted result. With no header, fn is called with an
// empty ContentType. When no range is accepted, the error of the first
// range is returned.
func Negotiate[T any](accept string, fn func(ContentType) (T, error)) (T, error) {
	ranges := ParseAccept(accept)
	if len(ranges) == 0 {
		return fn(ContentType{Attributes: map[string]string{}})
	}

	var firstErr error
	for _, r := range ranges {
		v, err := fn(r)
		if err == nil {
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	var zero T
	return zero, firstErr
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func splitOutsideQuotes(s string, sep byte) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case sep:
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}
