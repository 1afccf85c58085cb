// Package router resolves request paths against registered endpoint templates.
package router

import (
	"errors"
	"net/url"
	"strings"

	"github.com/chain-data-gateway/internal/model"
)

var ErrNotFound = errors.New("no endpoint matches path")

// Match is a resolved endpoint together with its captured placeholder values.
type Match struct {
	Endpoint model.Endpoint
	Params   map[string]string
}

// UpstreamURL returns the endpoint's upstream URL with placeholders filled in.
func (m *Match) UpstreamURL() string {
	return Substitute(m.Endpoint.UpstreamURL, m.Params)
}

// Resolve matches path against endpoints in two passes. The first pass only
// considers templates without placeholders and requires every segment to be
// equal, so a literal route always wins over a parameterized one that could
// also capture it. The second pass walks parameterized templates in
// registration order and returns the first whose literal segments match.
func Resolve(path string, endpoints []model.Endpoint) (*Match, error) {
	segments := Split(path)

	for _, e := range endpoints {
		if e.HasPlaceholders() {
			continue
		}
		if params, ok := matchSegments(Split(e.Path), segments); ok {
			return &Match{Endpoint: e, Params: params}, nil
		}
	}

	for _, e := range endpoints {
		if !e.HasPlaceholders() {
			continue
		}
		if params, ok := matchSegments(Split(e.Path), segments); ok {
			return &Match{Endpoint: e, Params: params}, nil
		}
	}

	return nil, ErrNotFound
}

// Split breaks a path into its non-empty "/"-delimited segments.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchSegments(template, segments []string) (map[string]string, bool) {
	if len(template) != len(segments) {
		return nil, false
	}

	params := make(map[string]string)
	for i, part := range template {
		if name, ok := model.PlaceholderName(part); ok {
			if isDotSegment(segments[i]) {
				return nil, false
			}
			params[name] = segments[i]
			continue
		}
		if part != segments[i] {
			return nil, false
		}
	}
	return params, true
}

// isDotSegment reports whether s would move up or stay in place when used
// as a path segment.
func isDotSegment(s string) bool {
	return s == "." || s == ".."
}

// EscapeSegment encodes a captured value so it stays a single opaque path
// segment upstream. Dot segments are percent-encoded as well.
func EscapeSegment(value string) string {
	if isDotSegment(value) {
		return strings.Repeat("%2E", len(value))
	}
	return url.PathEscape(value)
}

// Substitute replaces each {name} token in template with its value from
// params. Values in the path are escaped with EscapeSegment and values in
// the query with url.QueryEscape, so a value never changes the URL's
// structure. The template is scanned once and values are never re-parsed.
// Unknown tokens are kept.
func Substitute(template string, params map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))

	queryAt := strings.IndexByte(template, '?')
	pos := 0
	for {
		open := strings.IndexByte(template[pos:], '{')
		if open < 0 {
			b.WriteString(template[pos:])
			return b.String()
		}
		open += pos
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template[pos:])
			return b.String()
		}
		end += open

		b.WriteString(template[pos:open])
		if value, ok := params[template[open+1:end]]; ok {
			if queryAt >= 0 && open > queryAt {
				b.WriteString(url.QueryEscape(value))
			} else {
				b.WriteString(EscapeSegment(value))
			}
		} else {
			b.WriteString(template[open : end+1])
		}
		pos = end + 1
	}
}

// Placeholders returns the placeholder names of a template in order.
func Placeholders(template string) []string {
	var names []string
	for _, part := range Split(template) {
		if name, ok := model.PlaceholderName(part); ok {
			names = append(names, name)
		}
	}
	return names
}
