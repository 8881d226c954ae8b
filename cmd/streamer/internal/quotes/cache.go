package quotes

import (
	"sync"
	"time"

	"github.com/finwatch/price-stream/pkg/models"
)

type cacheEntry struct {
	quote     models.Quote
	expiresAt time.Time
}

// quoteCache holds recent single-lookup quotes for a short TTL. It is
// process-local and never authoritative beyond its TTL.
type quoteCache struct {
	ttl time.Duration

	mu    sync.RWMutex
	items map[string]cacheEntry
}

func newQuoteCache(ttl time.Duration) *quoteCache {
	return &quoteCache{ttl: ttl, items: make(map[string]cacheEntry)}
}

func (c *quoteCache) get(ticker string) (models.Quote, bool) {
	if c.ttl <= 0 {
		return models.Quote{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[ticker]
	if !ok || time.Now().After(e.expiresAt) {
		return models.Quote{}, false
	}
	return e.quote, true
}

func (c *quoteCache) put(ticker string, q models.Quote) {
	if c.ttl <= 0 {
		return
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Drop stale entries opportunistically while we hold the lock.
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, k)
		}
	}
	c.items[ticker] = cacheEntry{quote: q, expiresAt: now.Add(c.ttl)}
}
