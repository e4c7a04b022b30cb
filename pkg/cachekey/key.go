// Package cachekey implements the pure, deterministic mapping from an
// inbound request's fingerprint to a cache key string.
package cachekey

import (
	"fmt"
	"net/http"
)

// RequestInfo is the fingerprint passed to a KeyFunc. It is only ever
// constructed for the duration of one handler invocation and is never
// stored.
type RequestInfo struct {
	// Method is the HTTP method, uppercase.
	Method string
	// Path is the request path, with a leading slash and no query string.
	Path string
	// Query is the query string, without a leading '?'. Empty if none.
	Query string
	// Header is a read-only view of the request headers.
	Header http.Header
}

// KeyFunc maps a RequestInfo to an opaque cache key string. It must be
// pure and side-effect free; the proxy calls it at most once per
// cacheable request, on the request-handling goroutine, before any
// lookup.
type KeyFunc func(RequestInfo) string

// Default is the cache key function used when a ProxyConfig does not
// override it: "{METHOD}:{PATH}" if the query string is empty, else
// "{METHOD}:{PATH}?{QUERY}".
func Default(info RequestInfo) string {
	if info.Query == "" {
		return fmt.Sprintf("%s:%s", info.Method, info.Path)
	}
	return fmt.Sprintf("%s:%s?%s", info.Method, info.Path, info.Query)
}

// FromRequest builds a RequestInfo from an *http.Request.
func FromRequest(r *http.Request) RequestInfo {
	return RequestInfo{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header,
	}
}
