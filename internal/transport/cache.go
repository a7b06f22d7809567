package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"

	"f1standings/notionsync/internal/metrics"
)

// NewCachedTransport caches GET responses in memory for ttl regardless of
// what the origin says about caching. A zero ttl disables the cache.
func NewCachedTransport(name string, base http.RoundTripper, ttl time.Duration) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if ttl <= 0 {
		return base
	}

	hc := httpcache.NewTransport(httpcache.NewMemoryCache())
	hc.MarkCachedResponses = true
	hc.Transport = &HeaderOverride{
		Base: base,
		Response: func(resp *http.Response) error {
			resp.Header.Del("Pragma")
			resp.Header.Del("Expires")
			resp.Header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(ttl/time.Second)))
			return nil
		},
	}

	return &cacheMetrics{name: name, next: hc}
}

// HeaderOverride rewrites successful responses from an underlying transport
type HeaderOverride struct {
	Response func(resp *http.Response) error
	Base     http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *HeaderOverride) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Only successful bodies are worth keeping
	if t.Response != nil && resp.StatusCode == http.StatusOK {
		if err := t.Response(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	return resp, nil
}

type cacheMetrics struct {
	name string
	next http.RoundTripper
}

func (c *cacheMetrics) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := c.next.RoundTrip(req)
	if err != nil || req.Method != http.MethodGet {
		return resp, err
	}
	if resp.Header.Get(httpcache.XFromCache) != "" {
		metrics.RecordCacheHit(c.name)
	} else {
		metrics.RecordCacheMiss(c.name)
	}
	return resp, nil
}
