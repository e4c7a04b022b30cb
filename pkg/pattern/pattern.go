// Package pattern implements the wildcard / method-prefix matcher shared
// by the request classifier's include-exclude filter and by the refresh
// bus's key-pattern invalidation.
package pattern

import "strings"

var httpMethods = []string{
	"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS", "CONNECT", "TRACE",
}

// Parse splits a pattern into an optional method prefix and the
// remaining path pattern. A method prefix must be one of the known HTTP
// methods followed by at least one space or tab; anything else is
// treated as a path-only pattern that applies to every method.
func Parse(raw string) (method string, path string) {
	p := strings.TrimSpace(raw)
	for _, m := range httpMethods {
		if !strings.HasPrefix(p, m) {
			continue
		}
		rest := p[len(m):]
		if strings.HasPrefix(rest, " ") || strings.HasPrefix(rest, "\t") {
			return m, strings.TrimLeft(rest, " \t")
		}
	}
	return "", p
}

// Match reports whether input matches pattern. Unlike MatchWithMethod,
// pattern is matched exactly as given: a literal pattern that happens
// to look like "GET /x" still only matches the literal input "GET /x",
// since there is no method argument here to compare a prefix against.
func Match(input, pattern string) bool {
	return matchPath(input, pattern)
}

// MatchWithMethod reports whether (method, input) matches pattern. If
// pattern carries a method prefix, method must equal it exactly; if
// pattern has no method prefix, it matches every method.
func MatchWithMethod(method, input, pattern string) bool {
	wantMethod, p := Parse(pattern)
	if wantMethod != "" && wantMethod != method {
		return false
	}
	return matchPath(input, p)
}

// matchPath implements the greedy-segmentation algorithm: split the
// pattern on '*', require the first segment to prefix-match the input,
// the last segment to suffix-match whatever input remains after the
// earlier segments were consumed, and every segment in between to be
// found in order via plain substring search with the cursor advanced
// past each match.
func matchPath(input, pattern string) bool {
	segments := strings.Split(pattern, "*")
	if len(segments) == 1 {
		return input == pattern
	}

	pos := 0
	last := len(segments) - 1
	for i, seg := range segments {
		if i == 0 {
			if !strings.HasPrefix(input, seg) {
				return false
			}
			pos = len(seg)
			continue
		}
		if i == last {
			return strings.HasSuffix(input[pos:], seg)
		}
		idx := strings.Index(input[pos:], seg)
		if idx == -1 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}
