package rescache

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Policy names a retrieval policy.
type Policy string

const (
	CacheFirst   Policy = "cache-first"
	NetworkFirst Policy = "network-first"
)

// Transport is an http.RoundTripper that answers requests through a Cache.
// Requests under APIPrefix use the network-first policy, everything else
// cache-first. Until the cache is activated requests go straight upstream.
type Transport struct {
	Cache *Cache
	// APIPrefix selects network-first requests. Defaults to "/api/".
	APIPrefix string
	// FallbackPath is the cached page served for failed navigations.
	// Defaults to "/offline.html".
	FallbackPath string
}

// NewTransport returns a transport with the default classification rules.
func NewTransport(cache *Cache) *Transport {
	return &Transport{Cache: cache}
}

// Classify returns the policy used for req.
func (t *Transport) Classify(req *http.Request) Policy {
	prefix := t.APIPrefix
	if prefix == "" {
		prefix = "/api/"
	}
	if strings.HasPrefix(req.URL.Path, prefix) {
		return NetworkFirst
	}
	return CacheFirst
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !t.Cache.Claimed() {
		fetched, err := t.Cache.fetch(req)
		if err != nil {
			return nil, err
		}
		return fetched.Response(req), nil
	}

	switch t.Classify(req) {
	case NetworkFirst:
		return t.networkFirst(req)
	default:
		return t.cacheFirst(req)
	}
}

func (t *Transport) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	// Only GET responses are cached.
	if req.Method != http.MethodGet {
		fetched, err := t.Cache.fetch(req)
		if err != nil {
			return nil, err
		}
		return fetched.Response(req), nil
	}

	cached, err := t.Cache.Match(ctx, req)
	if err == nil {
		t.Cache.metrics.CacheLookup(string(CacheFirst), "hit")
		return withSource(cached.Response(req), "hit"), nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		logrus.WithError(err).WithField("url", req.URL.String()).Warn("Cache lookup failed")
	}
	t.Cache.metrics.CacheLookup(string(CacheFirst), "miss")

	fetched, fetchErr := t.Cache.fetch(req)
	if fetchErr != nil {
		return t.fallback(req, CacheFirst, fetchErr)
	}

	if fetched.Status == http.StatusOK {
		if err := t.Cache.Put(ctx, fetched); err != nil {
			logrus.WithError(err).WithField("url", req.URL.String()).Warn("Failed to cache response")
		}
	}
	return fetched.Response(req), nil
}

func (t *Transport) networkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	fetched, fetchErr := t.Cache.fetch(req)
	if fetchErr == nil {
		if req.Method == http.MethodGet && fetched.Status == http.StatusOK {
			if err := t.Cache.Put(ctx, fetched); err != nil {
				logrus.WithError(err).WithField("url", req.URL.String()).Warn("Failed to cache response")
			}
		}
		return fetched.Response(req), nil
	}

	cached, err := t.Cache.Match(ctx, req)
	if err == nil {
		t.Cache.metrics.CacheLookup(string(NetworkFirst), "hit")
		logrus.WithFields(logrus.Fields{
			"url":   req.URL.String(),
			"error": fetchErr,
		}).Debug("Network failed; serving cached response")
		return withSource(cached.Response(req), "hit"), nil
	}
	t.Cache.metrics.CacheLookup(string(NetworkFirst), "miss")

	return t.fallback(req, NetworkFirst, fetchErr)
}

// fallback serves the offline page for navigations and propagates cause for
// everything else.
func (t *Transport) fallback(req *http.Request, policy Policy, cause error) (*http.Response, error) {
	if !IsNavigation(req) {
		return nil, cause
	}

	path := t.FallbackPath
	if path == "" {
		path = "/offline.html"
	}
	u := *req.URL
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	page, err := t.Cache.backend.Match(req.Context(), t.Cache.generation, RequestKey(http.MethodGet, u.String()))
	if err != nil {
		return nil, fmt.Errorf("%w (no offline page: %w)", cause, err)
	}

	t.Cache.metrics.CacheLookup(string(policy), "fallback")
	return withSource(page.Response(req), "fallback"), nil
}

// IsNavigation reports whether req loads a page rather than a subresource.
func IsNavigation(req *http.Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func withSource(resp *http.Response, source string) *http.Response {
	resp.Header.Set("X-Offline-Cache", source)
	return resp
}
