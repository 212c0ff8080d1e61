package feed

import (
	"context"
	"log/slog"

	"github.com/binarex/option-engine/internal/metrics"
	"github.com/binarex/option-engine/internal/pricecache"
)

// Consumer drains the connection's event channel into the price cache.
// It is the cache's single writer. Down events are surfaced on a dedicated
// channel for the operator-facing side of the process.
type Consumer struct {
	cache *pricecache.Cache
	down  chan error
}

// NewConsumer creates a consumer writing into cache.
func NewConsumer(cache *pricecache.Cache) *Consumer {
	return &Consumer{
		cache: cache,
		down:  make(chan error, 1),
	}
}

// Down delivers the terminal feed-down condition, at most once.
func (c *Consumer) Down() <-chan error {
	return c.down
}

// Run consumes events until the channel closes or ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case EventTick:
				c.cache.Set(ev.Ticker, ev.Price, ev.ObservedAt)
				metrics.FeedTicksTotal.Inc()
			case EventConnected:
				metrics.FeedState.Set(1)
				metrics.FeedReconnectsTotal.Inc()
			case EventDisconnected:
				metrics.FeedState.Set(0)
			case EventDown:
				metrics.FeedState.Set(0)
				slog.Error("feed is down and will not reconnect", "err", ev.Err)
				select {
				case c.down <- ev.Err:
				default:
				}
			}
		}
	}
}
