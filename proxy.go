// Package relaycache is a reverse HTTP proxy with a response cache for
// prerendered content: requests are classified, cacheable misses are
// filled from a backend with single-flight coalescing, and protocol
// upgrades are tunneled without ever touching the cache.
package relaycache

import (
	"fmt"
	"net/url"
	"time"

	"github.com/relaycache/relaycache/pkg/cache"
	"github.com/relaycache/relaycache/pkg/cachekey"
	"github.com/relaycache/relaycache/pkg/classifier"
	"github.com/relaycache/relaycache/pkg/forwarder"
	"github.com/relaycache/relaycache/pkg/refreshbus"
	"github.com/relaycache/relaycache/pkg/tunnel"
)

// Config configures one Proxy instance. BackendURL is required; every
// other field has a usable zero value.
type Config struct {
	BackendURL string

	IncludePaths []string
	ExcludePaths []string

	// WebsocketEnabled governs whether protocol-upgrade requests are
	// tunneled or rejected with 501. Nil means enabled, matching the
	// spec's documented default; set explicitly to disable.
	WebsocketEnabled *bool
	ForwardGetOnly   bool

	// KeyFunc overrides the default cache key function. Nil means
	// cachekey.Default.
	KeyFunc cachekey.KeyFunc

	DialTimeout           time.Duration
	ResponseHeaderTimeout time.Duration
	MaxBodyBytes          int64
}

func (c Config) filterRules() classifier.FilterRules {
	rules := classifier.FilterRules{}
	for _, p := range c.IncludePaths {
		rules.Include = append(rules.Include, classifier.Rule(p))
	}
	for _, p := range c.ExcludePaths {
		rules.Exclude = append(rules.Exclude, classifier.Rule(p))
	}
	return rules
}

func (c Config) classifierOptions() classifier.Options {
	return classifier.Options{
		WebsocketEnabled: c.websocketEnabledOrDefault(),
		ForwardGetOnly:   c.ForwardGetOnly,
	}
}

func (c Config) websocketEnabledOrDefault() bool {
	if c.WebsocketEnabled == nil {
		return true
	}
	return *c.WebsocketEnabled
}

func (c Config) keyFunc() cachekey.KeyFunc {
	if c.KeyFunc != nil {
		return c.KeyFunc
	}
	return cachekey.Default
}

// Proxy is the fully wired request handler: classifier, response
// cache, upstream forwarder and upgrade tunnel, composed per the
// handler contract in (*Proxy).ServeHTTP.
type Proxy struct {
	rules   classifier.FilterRules
	opts    classifier.Options
	keyFunc cachekey.KeyFunc

	cache     *cache.Cache
	forwarder *forwarder.Forwarder
	tunnel    *tunnel.Tunnel
}

// CreateProxy builds a Proxy with a fresh Refresh Bus and returns both,
// so the caller can trigger invalidation without going through the
// control endpoint.
func CreateProxy(cfg Config) (*Proxy, *refreshbus.Bus, error) {
	bus := refreshbus.New()
	p, err := CreateProxyWithTrigger(cfg, bus)
	if err != nil {
		return nil, nil, err
	}
	return p, bus, nil
}

// CreateProxyWithTrigger builds a Proxy sharing an existing Refresh
// Bus, for embedders that already manage one (e.g. to fan it out to
// several proxies, or to feed it from a non-HTTP source).
func CreateProxyWithTrigger(cfg Config, bus *refreshbus.Bus) (*Proxy, error) {
	backendURL, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("relaycache: parsing backend_url: %w", err)
	}

	return &Proxy{
		rules:   cfg.filterRules(),
		opts:    cfg.classifierOptions(),
		keyFunc: cfg.keyFunc(),
		cache:   cache.New(bus),
		forwarder: forwarder.New(backendURL, forwarder.Options{
			DialTimeout:           cfg.DialTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			MaxBodyBytes:          cfg.MaxBodyBytes,
		}),
		tunnel: tunnel.New(backendURL, cfg.DialTimeout),
	}, nil
}

// Close releases the Proxy's Refresh Bus subscription. It does not
// close the Bus itself, which may be shared with other proxies.
func (p *Proxy) Close() {
	p.cache.Close()
}
