// Package pricecache is the process-local last-value store for raw feed
// prices. It is rebuilt from the feed after a restart; absence of an entry is
// a valid state (no price seen yet).
//
// Writes are ordered by observation time, not arrival order: a frame that
// arrives late (e.g. after a reconnect) never clobbers a newer price.
// This is a pure last-value cache, not a queue — intermediate ticks between
// two reads are lost by design.
package pricecache

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one cached observation for a ticker.
type Quote struct {
	Price      decimal.Decimal
	ObservedAt time.Time
}

// Cache maps feed tickers to their latest observed raw price.
// Single-writer (the feed consumer), many readers.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{quotes: make(map[string]Quote)}
}

// Set records a price observation. It is a no-op if an entry already exists
// with an observation time at or after observedAt.
func (c *Cache) Set(ticker string, price decimal.Decimal, observedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.quotes[ticker]; ok && !cur.ObservedAt.Before(observedAt) {
		return
	}
	c.quotes[ticker] = Quote{Price: price, ObservedAt: observedAt}
}

// Get returns the latest quote for ticker, if any.
func (c *Cache) Get(ticker string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q, ok := c.quotes[ticker]
	return q, ok
}

// Snapshot returns a copy of every cached quote. Used by the publish loop to
// iterate without holding the lock across downstream calls.
func (c *Cache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Quote, len(c.quotes))
	for k, v := range c.quotes {
		out[k] = v
	}
	return out
}

// Len returns the number of tickers with at least one observation.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
