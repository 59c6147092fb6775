package rescache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nark2019/careerforgeai-sub001/internal/metrics"
	"github.com/nark2019/careerforgeai-sub001/internal/retry"
)

// Options configures a Cache.
type Options struct {
	// Generation is the version tag of the current cache generation.
	Generation string
	// FetchTimeout bounds every upstream fetch.
	FetchTimeout time.Duration
	// Retry controls how often a failed installation is retried.
	Retry retry.Config
	// Upstream performs network fetches. Defaults to http.DefaultTransport.
	Upstream http.RoundTripper
	Metrics  *metrics.Metrics
}

// Cache is one generation of cached responses on top of a Backend.
type Cache struct {
	backend      Backend
	generation   string
	fetchTimeout time.Duration
	retry        retry.Config
	upstream     http.RoundTripper
	metrics      *metrics.Metrics
	now          func() time.Time

	claimed atomic.Bool
}

// New creates a cache for opts.Generation.
func New(backend Backend, opts Options) (*Cache, error) {
	if backend == nil {
		return nil, errors.New("cache backend is required")
	}
	if opts.Generation == "" {
		return nil, errors.New("cache generation is required")
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.Upstream == nil {
		opts.Upstream = http.DefaultTransport
	}
	return &Cache{
		backend:      backend,
		generation:   opts.Generation,
		fetchTimeout: opts.FetchTimeout,
		retry:        opts.Retry,
		upstream:     opts.Upstream,
		metrics:      opts.Metrics,
		now:          time.Now,
	}, nil
}

// Generation returns the current version tag.
func (c *Cache) Generation() string {
	return c.generation
}

// Claimed reports whether the cache has been activated and serves requests.
func (c *Cache) Claimed() bool {
	return c.claimed.Load()
}

// Match returns the entry stored for req in the current generation.
func (c *Cache) Match(ctx context.Context, req *http.Request) (Entry, error) {
	return c.backend.Match(ctx, c.generation, keyFor(req))
}

// Put stores e, replacing any entry with the same key. Only 200 responses
// are cacheable; anything else is ignored.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if e.Status != http.StatusOK {
		return nil
	}
	return c.backend.PutAll(ctx, c.generation, []Entry{e})
}

// AddAll fetches every URL and stores the responses. A single failed or
// non-200 fetch fails the whole call and nothing is stored.
func (c *Cache) AddAll(ctx context.Context, urls []string) error {
	entries := make([]Entry, 0, len(urls))
	for _, u := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("invalid asset URL %q: %w", u, err))
		}

		fetched, err := c.fetch(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", u, err)
		}
		if fetched.Status != http.StatusOK {
			return fmt.Errorf("%w: %s returned %d", ErrNetworkFailure, u, fetched.Status)
		}
		entries = append(entries, fetched)
	}

	if err := c.backend.PutAll(ctx, c.generation, entries); err != nil {
		return fmt.Errorf("failed to store installed assets: %w", err)
	}
	return nil
}

// Install pre-populates the current generation from manifest, retrying the
// whole installation according to the retry configuration.
func (c *Cache) Install(ctx context.Context, manifest []string) error {
	logrus.WithFields(logrus.Fields{
		"generation": c.generation,
		"assets":     len(manifest),
	}).Info("Installing resource cache")

	err := retry.WithRetry(ctx, c.retry, func() error {
		return c.AddAll(ctx, manifest)
	})
	if err != nil {
		return fmt.Errorf("install of generation %s failed: %w", c.generation, err)
	}
	return nil
}

// Activate deletes every generation other than the current one and starts
// serving requests immediately. It returns the deleted generations.
func (c *Cache) Activate(ctx context.Context) ([]string, error) {
	generations, err := c.backend.Generations(ctx)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, g := range generations {
		if g == c.generation {
			continue
		}
		if err := c.backend.DeleteGeneration(ctx, g); err != nil {
			return deleted, err
		}
		deleted = append(deleted, g)
	}

	if err := c.backend.SetActive(ctx, c.generation); err != nil {
		return deleted, err
	}

	c.claimed.Store(true)
	logrus.WithFields(logrus.Fields{
		"generation": c.generation,
		"deleted":    deleted,
	}).Info("Activated resource cache")
	return deleted, nil
}

// Resume claims requests again when the current generation was activated by
// an earlier process. A different or missing active generation leaves the
// cache unclaimed until Activate runs.
func (c *Cache) Resume(ctx context.Context) (bool, error) {
	active, err := c.backend.Active(ctx)
	if err != nil {
		return false, err
	}
	if active != c.generation {
		if active != "" {
			logrus.WithFields(logrus.Fields{
				"active":     active,
				"generation": c.generation,
			}).Info("Cache generation changed, waiting for activation")
		}
		return false, nil
	}

	c.claimed.Store(true)
	logrus.WithField("generation", c.generation).Info("Resumed activated resource cache")
	return true, nil
}

// fetch performs req upstream within the fetch timeout and reads the whole
// body. Any error, including the timeout, is a network failure.
func (c *Cache) fetch(req *http.Request) (Entry, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.fetchTimeout)
	defer cancel()

	resp, err := c.upstream.RoundTrip(req.WithContext(ctx))
	if err != nil {
		c.metrics.CacheFetch("error")
		return Entry{}, fmt.Errorf("%w: %w", ErrNetworkFailure, err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		c.metrics.CacheFetch("error")
		return Entry{}, fmt.Errorf("%w: read body: %w", ErrNetworkFailure, err)
	}

	c.metrics.CacheFetch("ok")
	return newEntry(req, resp.StatusCode, resp.Header, body, c.now()), nil
}
