// Package quote assembles the live published price: latest raw observation
// from the price cache, open exposure from the store, manipulation bias from
// the pricing engine. Intake, the publish loop, and the price endpoint all
// quote through here so they can never disagree on the algorithm.
package quote

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
	"github.com/binarex/option-engine/internal/pricecache"
	"github.com/binarex/option-engine/internal/pricing"
	"github.com/binarex/option-engine/internal/store"
)

// Quoter computes published prices for symbols.
type Quoter struct {
	cache  *pricecache.Cache
	store  store.Store
	engine *pricing.Engine
}

// New creates a quoter.
func New(cache *pricecache.Cache, st store.Store, engine *pricing.Engine) *Quoter {
	return &Quoter{cache: cache, store: st, engine: engine}
}

// Published returns the current published price for sym along with the raw
// quote and the exposure totals that produced it. Returns
// model.ErrPriceUnavailable when the cache has no observation for the
// symbol's ticker.
func (q *Quoter) Published(ctx context.Context, sym *model.Symbol) (decimal.Decimal, pricecache.Quote, model.ExposureTotals, error) {
	raw, ok := q.cache.Get(sym.Ticker)
	if !ok {
		return decimal.Zero, pricecache.Quote{}, model.ExposureTotals{}, model.ErrPriceUnavailable
	}

	totals, err := q.store.SumOpenExposure(ctx, sym.ID)
	if err != nil {
		return decimal.Zero, pricecache.Quote{}, model.ExposureTotals{}, fmt.Errorf("sum exposure for %s: %w", sym.ID, err)
	}

	published, err := q.engine.Publish(raw.Price, totals.Up, totals.Down)
	if err != nil {
		return decimal.Zero, pricecache.Quote{}, model.ExposureTotals{}, fmt.Errorf("publish price for %s: %w", sym.Ticker, err)
	}

	return published, raw, totals, nil
}
