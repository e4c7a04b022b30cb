package relaycache

import (
	"bytes"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/relaycache/relaycache/pkg/cache"
	"github.com/relaycache/relaycache/pkg/cachekey"
	"github.com/relaycache/relaycache/pkg/classifier"
)

// maxKeyLength bounds how large a custom key function's result may be
// before the Proxy treats it as a fault and bypasses the cache, per
// the key function contract.
const maxKeyLength = 4096

// ServeHTTP implements the http.Handler interface.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer p.recover(w, r)
	p.handle(w, r)
}

// recover logs the panic and then falls back to a direct, uncached
// forward to the backend if the request handling path panics, mirroring
// the escape hatch used for a custom key function fault. It must never
// let the panic reach the standard library's own recovery, which would
// terminate the connection abruptly with no response at all.
func (p *Proxy) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		logger(r).WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("panic in proxy handler")
		p.bypass(w, r)
	}
}

func (p *Proxy) handle(w http.ResponseWriter, r *http.Request) {
	decision := classifier.Classify(r.Method, r.URL.Path, r.Header, p.rules, p.opts)

	switch decision.Kind {
	case classifier.KindReject:
		w.WriteHeader(decision.StatusCode)
		return
	case classifier.KindUpgrade:
		if err := p.tunnel.Serve(w, r); err != nil {
			logger(r).Error().Err(err).Msg("upgrade tunnel failed")
		}
		return
	}

	if !decision.Cacheable {
		p.forward(w, r)
		return
	}

	key, ok := p.safeKey(r)
	if !ok {
		logger(r).Warn().Msg("key function fault, bypassing cache")
		p.forward(w, r)
		return
	}

	artifact, err := p.cache.GetOrFill(key, func() (cache.Artifact, error) {
		return p.forwarder.Forward(r)
	})
	if err != nil {
		logger(r).Error().Err(err).Str("key", key).Msg("cache fill failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeArtifact(w, artifact)
}

// forward sends r directly to the backend and writes the fully read
// result to the client without involving the cache.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request) {
	artifact, err := p.forwarder.Forward(r)
	if err != nil {
		logger(r).Error().Err(err).Msg("forward failed")
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeArtifact(w, artifact)
}

// bypass is the panic escape hatch: a best-effort direct forward that
// swallows its own errors, since the caller is already unwinding from
// a panic and has nothing more useful to do with them.
func (p *Proxy) bypass(w http.ResponseWriter, r *http.Request) {
	artifact, err := p.forwarder.Forward(r)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	writeArtifact(w, artifact)
}

// safeKey calls the configured key function with panic recovery and
// rejects results that are implausibly large, both of which the key
// function contract treats as a fault to be logged and bypassed
// rather than propagated.
func (p *Proxy) safeKey(r *http.Request) (key string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger(r).WithLevel(zerolog.PanicLevel).Interface("error", rec).Msg("panic in key function")
			ok = false
		}
	}()
	key = p.keyFunc(cachekey.FromRequest(r))
	if len(key) > maxKeyLength {
		return "", false
	}
	return key, true
}

func writeArtifact(w http.ResponseWriter, a cache.Artifact) {
	for k, vv := range a.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(a.StatusCode)
	if _, err := io.Copy(w, bytes.NewReader(a.Body)); err != nil {
		log.Error().Err(err).Msg("error writing artifact body to client")
	}
}

func logger(r *http.Request) *zerolog.Logger {
	return hlog.FromRequest(r)
}
