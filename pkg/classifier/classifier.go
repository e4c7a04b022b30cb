// Package classifier applies the method whitelist, upgrade detection,
// and include/exclude rules to decide a request's disposition.
package classifier

import (
	"net/http"
	"strings"

	"github.com/relaycache/relaycache/pkg/pattern"
)

// Kind is the disposition category returned by Classify.
type Kind int

const (
	// KindReject means the request must be rejected with StatusCode and
	// an empty body, without contacting the backend.
	KindReject Kind = iota
	// KindUpgrade means the request is an HTTP protocol upgrade and must
	// be handed to the tunnel.
	KindUpgrade
	// KindForward means the request must be forwarded to the backend,
	// with caching governed by Cacheable.
	KindForward
)

// Decision is the classifier's output.
type Decision struct {
	Kind Kind
	// StatusCode is set when Kind == KindReject.
	StatusCode int
	// Cacheable is set when Kind == KindForward.
	Cacheable bool
}

// Rule is a single include/exclude rule: an optional method and a path
// wildcard pattern, in the same "METHOD /pattern" or "/pattern" syntax
// understood by pkg/pattern.
type Rule string

// Rules is a compiled include or exclude list.
type Rules []Rule

// FilterRules holds the compiled include and exclude lists used to
// decide whether a forwarded request may be cached.
type FilterRules struct {
	Include Rules
	Exclude Rules
}

// Cacheable reports whether (method, path) is cacheable under rules:
// cacheable iff (Include is empty OR some Include rule matches) AND no
// Exclude rule matches.
func (f FilterRules) Cacheable(method, path string) bool {
	for _, r := range f.Exclude {
		if pattern.MatchWithMethod(method, path, string(r)) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, r := range f.Include {
		if pattern.MatchWithMethod(method, path, string(r)) {
			return true
		}
	}
	return false
}

// Options are the ProxyConfig booleans that influence classification.
type Options struct {
	WebsocketEnabled bool
	ForwardGetOnly   bool
}

// Classify decides the disposition of an inbound request. Upgrade
// detection precedes filter evaluation and ignores the include/exclude
// lists entirely; it also ignores method, so CONNECT is handled the
// same as a GET upgrade.
func Classify(method, path string, header http.Header, rules FilterRules, opts Options) Decision {
	if opts.ForwardGetOnly && method != http.MethodGet {
		return Decision{Kind: KindReject, StatusCode: http.StatusMethodNotAllowed}
	}

	if isUpgrade(header) {
		if !opts.WebsocketEnabled {
			return Decision{Kind: KindReject, StatusCode: http.StatusNotImplemented}
		}
		return Decision{Kind: KindUpgrade}
	}

	return Decision{Kind: KindForward, Cacheable: rules.Cacheable(method, path)}
}

// isUpgrade reports whether the request signals an HTTP protocol
// upgrade: a Connection header containing the token "upgrade"
// (case-insensitive, per HTTP token rules) or a non-empty Upgrade
// header.
func isUpgrade(header http.Header) bool {
	if header.Get("Upgrade") != "" {
		return true
	}
	for _, token := range strings.Split(header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
			return true
		}
	}
	return false
}
