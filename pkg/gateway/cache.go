package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-kit/kit/endpoint"
)

// responseCache is a route-scoped TTL cache over successful backend
// responses. Entries are kept past their TTL so that they can be served
// stale while every backend of the route is failing; a fresh response
// overwrites the entry.
type responseCache struct {
	mtx       sync.RWMutex
	entries   map[string]*cacheEntry
	ttl       time.Duration
	varyQuery bool
	now       func() time.Time
}

type cacheEntry struct {
	resp     proxyResponse
	storedAt time.Time
}

func newCache(ttl time.Duration, varyQuery bool) *responseCache {
	return &responseCache{
		entries:   make(map[string]*cacheEntry),
		ttl:       ttl,
		varyQuery: varyQuery,
		now:       time.Now,
	}
}

func (c *responseCache) key(req *proxyRequest) string {
	k := req.Method + " " + req.Path
	if c.varyQuery {
		k += "?" + req.RawQuery
	}
	return k
}

// middleware wraps the balanced endpoint of a route. Within the TTL a hit
// replays the stored bytes untouched; on a chain failure an expired entry
// is served stale rather than failing the client.
func (c *responseCache) middleware(next endpoint.Endpoint) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(*proxyRequest)
		key := c.key(req)

		if resp, ok := c.lookup(key, false); ok {
			resp.Cache = "HIT"
			return resp, nil
		}

		response, err := next(ctx, request)
		if err != nil {
			if resp, ok := c.lookup(key, true); ok {
				resp.Cache = "STALE"
				return resp, nil
			}
			return nil, err
		}

		resp := response.(*proxyResponse)
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.store(key, resp)
		}
		resp.Cache = "MISS"
		return resp, nil
	}
}

// lookup returns a copy of the entry under key, if there is one and it is
// fresh enough. With allowStale set, expiry is ignored.
func (c *responseCache) lookup(key string, allowStale bool) (*proxyResponse, bool) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !allowStale && c.now().Sub(e.storedAt) > c.ttl {
		return nil, false
	}
	resp := e.resp
	resp.Header = e.resp.Header.Clone()
	return &resp, true
}

func (c *responseCache) store(key string, resp *proxyResponse) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.entries[key] = &cacheEntry{
		resp: proxyResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       append([]byte(nil), resp.Body...),
		},
		storedAt: c.now(),
	}
}
