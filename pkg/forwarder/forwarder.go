// Package forwarder builds and executes backend requests and
// materializes their responses into cache.Artifact values.
package forwarder

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/relaycache/relaycache/pkg/cache"
)

// hopByHop lists the header fields that apply only to a single
// transport hop and must never be copied across the proxy boundary,
// per RFC 9110 section 7.6.1.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ErrBodyTooLarge is returned when a backend response body exceeds the
// forwarder's configured MaxBodyBytes.
var ErrBodyTooLarge = errors.New("forwarder: backend response body exceeds maximum size")

// Forwarder sends requests to a single backend and turns the backend's
// response into an Artifact ready for storage or direct return.
type Forwarder struct {
	backendURL   *url.URL
	backendHost  string
	client       *http.Client
	maxBodyBytes int64
}

// Options configures a Forwarder.
type Options struct {
	// DialTimeout bounds establishing the TCP connection to the backend.
	DialTimeout time.Duration
	// ResponseHeaderTimeout bounds waiting for the backend's status line
	// and headers once the request has been written.
	ResponseHeaderTimeout time.Duration
	// MaxBodyBytes bounds how much of a backend response body is read
	// into memory; zero means unbounded.
	MaxBodyBytes int64
}

// New creates a Forwarder that sends requests to backendURL.
func New(backendURL *url.URL, opts Options) *Forwarder {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: fallback(opts.DialTimeout, 10*time.Second),
		}).DialContext,
		ResponseHeaderTimeout: fallback(opts.ResponseHeaderTimeout, 30*time.Second),
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
	}
	return &Forwarder{
		backendURL:  backendURL,
		backendHost: backendURL.Host,
		client: &http.Client{
			Transport: transport,
			// The backend's redirects are origin content, not proxy
			// behavior: return them to the client uninterpreted rather
			// than chasing them ourselves.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxBodyBytes: opts.MaxBodyBytes,
	}
}

// Forward sends r's method, path, query, headers and body to the
// backend and materializes the backend's response into an Artifact.
// The returned Artifact's Body has been fully read into memory; r's
// body has been fully consumed.
func (f *Forwarder) Forward(r *http.Request) (cache.Artifact, error) {
	backendReq, err := f.buildRequest(r)
	if err != nil {
		return cache.Artifact{}, fmt.Errorf("forwarder: building backend request: %w", err)
	}

	resp, err := f.client.Do(backendReq)
	if err != nil {
		return cache.Artifact{}, fmt.Errorf("forwarder: contacting backend: %w", err)
	}
	defer resp.Body.Close()

	return f.materialize(resp)
}

func (f *Forwarder) buildRequest(r *http.Request) (*http.Request, error) {
	target := *f.backendURL
	target.Path = joinPath(f.backendURL.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	// http.NewRequest treats a non-nil body with zero ContentLength as
	// present, which some servers mishandle; pass nil explicitly.
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}

	backendReq, err := http.NewRequest(r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	backendReq.Host = f.backendHost
	backendReq.ContentLength = r.ContentLength
	copyHeaderExceptHopByHop(backendReq.Header, r.Header)
	return backendReq, nil
}

func (f *Forwarder) materialize(resp *http.Response) (cache.Artifact, error) {
	var reader io.Reader = resp.Body
	if f.maxBodyBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return cache.Artifact{}, fmt.Errorf("forwarder: reading backend response body: %w", err)
	}
	if f.maxBodyBytes > 0 && int64(len(body)) > f.maxBodyBytes {
		return cache.Artifact{}, ErrBodyTooLarge
	}

	header := make(http.Header, len(resp.Header))
	copyHeaderExceptHopByHop(header, resp.Header)

	return cache.Artifact{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

func copyHeaderExceptHopByHop(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHop {
		if http.CanonicalHeaderKey(key) == h {
			return true
		}
	}
	return false
}

func joinPath(base, reqPath string) string {
	if base == "" || base == "/" {
		return reqPath
	}
	trimmed := base
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed + reqPath
}

func fallback(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
