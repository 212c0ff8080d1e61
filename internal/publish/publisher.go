package publish

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/binarex/option-engine/internal/model"
	"github.com/binarex/option-engine/internal/pricecache"
	"github.com/binarex/option-engine/internal/quote"
	"github.com/binarex/option-engine/internal/store"
)

// Publisher recomputes and broadcasts the published price for every cached
// symbol at a fixed cadence. The cadence is independent of raw feed arrival:
// even when the raw price has not moved, a shift in open exposure changes
// the published price, so it is recomputed every tick.
//
// Each tick also persists the raw/published pair to the store under the
// monotonic-refresh rule.
type Publisher struct {
	cache    *pricecache.Cache
	store    store.Store
	quoter   *quote.Quoter
	hub      *Hub
	interval time.Duration
}

// NewPublisher creates a publisher. interval <= 0 defaults to 1s.
func NewPublisher(cache *pricecache.Cache, st store.Store, quoter *quote.Quoter, hub *Hub, interval time.Duration) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Publisher{
		cache:    cache,
		store:    st,
		quoter:   quoter,
		hub:      hub,
		interval: interval,
	}
}

// Run broadcasts on every cadence tick until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishAll(ctx)
		}
	}
}

// publishAll quotes every symbol with a cached raw price and fans the result
// out. Errors affect only the symbol in hand; one bad symbol never stalls
// the rest.
func (p *Publisher) publishAll(ctx context.Context) {
	for ticker, q := range p.cache.Snapshot() {
		sym, err := p.store.FindSymbol(ctx, ticker)
		if err != nil {
			if !errors.Is(err, model.ErrUnknownSymbol) {
				slog.Warn("publish: symbol lookup failed", "ticker", ticker, "err", err)
			}
			continue
		}

		published, raw, _, err := p.quoter.Published(ctx, sym)
		if err != nil {
			slog.Warn("publish: quote failed", "ticker", ticker, "err", err)
			continue
		}

		p.hub.Broadcast(Message{
			Type:   "price",
			Symbol: ticker,
			Price:  published.String(),
			Raw:    raw.Price.String(),
			At:     q.ObservedAt.UTC().Format(time.RFC3339Nano),
		})

		if err := p.store.UpdateSymbolPrices(ctx, sym.ID, raw.Price, published, raw.ObservedAt); err != nil {
			slog.Warn("publish: price persist failed", "ticker", ticker, "err", err)
		}
	}
}
