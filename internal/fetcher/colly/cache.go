package collyfetcher

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/JakeFAU/billboard-chart-crawler/internal/chart"
)

// PageCache keeps recently fetched chart pages so a retried run or a
// repeated backfill does not hit the site again for the same week.
// A nil *PageCache is a valid, disabled cache.
type PageCache struct {
	lru *expirable.LRU[string, chart.FetchResponse]
}

// NewPageCache returns a cache bounded to size entries, each living for ttl.
// It returns nil when size is not positive.
func NewPageCache(size int, ttl time.Duration) *PageCache {
	if size <= 0 {
		return nil
	}
	return &PageCache{lru: expirable.NewLRU[string, chart.FetchResponse](size, nil, ttl)}
}

// Get returns a copy of the cached response for url.
func (c *PageCache) Get(url string) (chart.FetchResponse, bool) {
	if c == nil {
		return chart.FetchResponse{}, false
	}
	resp, ok := c.lru.Get(url)
	if !ok {
		return chart.FetchResponse{}, false
	}
	resp.Body = append([]byte(nil), resp.Body...)
	resp.FromCache = true
	return resp, true
}

// Add stores resp under url.
func (c *PageCache) Add(url string, resp chart.FetchResponse) {
	if c == nil {
		return
	}
	resp.Body = append([]byte(nil), resp.Body...)
	c.lru.Add(url, resp)
}

// Len reports the number of cached pages.
func (c *PageCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
