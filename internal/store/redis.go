package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for symbols and users. Mutations go to the primary store and
// invalidate the cache; reads check Redis first then fall back.
//
// Order and exposure reads are never cached: exposure must be a live
// snapshot and order state drives settlement.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Users ---

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheJSON(ctx, userKey(u.ID), u)
	return nil
}

func (s *CachedStore) FindUser(ctx context.Context, id string) (*model.User, error) {
	if data, err := s.rdb.Get(ctx, userKey(id)).Bytes(); err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, userKey(id), u)
	return u, nil
}

// --- Symbols ---

func (s *CachedStore) CreateSymbol(ctx context.Context, sym *model.Symbol) error {
	if err := s.primary.CreateSymbol(ctx, sym); err != nil {
		return err
	}
	s.cacheJSON(ctx, symbolKey(sym.Ticker), sym)
	return nil
}

func (s *CachedStore) FindSymbol(ctx context.Context, ticker string) (*model.Symbol, error) {
	if data, err := s.rdb.Get(ctx, symbolKey(ticker)).Bytes(); err == nil {
		var sym model.Symbol
		if json.Unmarshal(data, &sym) == nil {
			return &sym, nil
		}
	}

	sym, err := s.primary.FindSymbol(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, symbolKey(ticker), sym)
	return sym, nil
}

func (s *CachedStore) FindSymbolByID(ctx context.Context, id string) (*model.Symbol, error) {
	return s.primary.FindSymbolByID(ctx, id)
}

func (s *CachedStore) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	return s.primary.ListSymbols(ctx)
}

func (s *CachedStore) UpdateSymbolPrices(ctx context.Context, id string, raw, published decimal.Decimal, observedAt time.Time) error {
	if err := s.primary.UpdateSymbolPrices(ctx, id, raw, published, observedAt); err != nil {
		return err
	}
	// Invalidate by ticker; next read re-populates.
	if sym, err := s.primary.FindSymbolByID(ctx, id); err == nil {
		s.rdb.Del(ctx, symbolKey(sym.Ticker))
	}
	return nil
}

// --- Orders (balance mutations invalidate the cached user) ---

func (s *CachedStore) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := s.primary.CreateOrder(ctx, o); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(o.UserID))
	return nil
}

func (s *CachedStore) SettleOrder(ctx context.Context, orderID string, exitPrice decimal.Decimal, outcome model.Outcome, profitLoss, credit decimal.Decimal) error {
	if err := s.primary.SettleOrder(ctx, orderID, exitPrice, outcome, profitLoss, credit); err != nil {
		return err
	}
	if o, err := s.primary.FindOrder(ctx, orderID); err == nil {
		s.rdb.Del(ctx, userKey(o.UserID))
	}
	return nil
}

// --- Passthrough (never cached) ---

func (s *CachedStore) FindOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.FindOrder(ctx, id)
}

func (s *CachedStore) FindOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.primary.FindOrdersByUser(ctx, userID)
}

func (s *CachedStore) FindPendingOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.FindPendingOrders(ctx)
}

func (s *CachedStore) FindUnresolvedOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.FindUnresolvedOrders(ctx)
}

func (s *CachedStore) SumOpenExposure(ctx context.Context, symbolID string) (model.ExposureTotals, error) {
	return s.primary.SumOpenExposure(ctx, symbolID)
}

func (s *CachedStore) MarkUnresolved(ctx context.Context, orderID string) error {
	return s.primary.MarkUnresolved(ctx, orderID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func symbolKey(ticker string) string { return fmt.Sprintf("symbol:%s", ticker) }
func userKey(id string) string       { return fmt.Sprintf("user:%s", id) }
