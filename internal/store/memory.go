package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. The settle guard runs under the store lock, giving the same
// at-most-once semantics as the Postgres transaction.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*model.User
	symbols map[string]*model.Symbol
	orders  map[string]*model.Order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.User),
		symbols: make(map[string]*model.Symbol),
		orders:  make(map[string]*model.Order),
	}
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *MemoryStore) FindUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, model.ErrUnknownUser
	}
	cp := *u
	return &cp, nil
}

// --- Symbols ---

func (s *MemoryStore) CreateSymbol(_ context.Context, sym *model.Symbol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sym
	s.symbols[sym.ID] = &cp
	return nil
}

func (s *MemoryStore) FindSymbol(_ context.Context, ticker string) (*model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sym := range s.symbols {
		if sym.Ticker == ticker {
			cp := *sym
			return &cp, nil
		}
	}
	return nil, model.ErrUnknownSymbol
}

func (s *MemoryStore) FindSymbolByID(_ context.Context, id string) (*model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sym, ok := s.symbols[id]
	if !ok {
		return nil, model.ErrUnknownSymbol
	}
	cp := *sym
	return &cp, nil
}

func (s *MemoryStore) ListSymbols(_ context.Context) ([]model.Symbol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]model.Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		symbols = append(symbols, *sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Ticker < symbols[j].Ticker })
	return symbols, nil
}

func (s *MemoryStore) UpdateSymbolPrices(_ context.Context, id string, raw, published decimal.Decimal, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sym, ok := s.symbols[id]
	if !ok {
		return model.ErrUnknownSymbol
	}
	if !sym.PriceAt.Before(observedAt) {
		return nil // stale observation, keep the newer value
	}
	sym.LastRaw = raw
	sym.LastPublished = published
	sym.PriceAt = observedAt
	return nil
}

// --- Orders ---

func (s *MemoryStore) CreateOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[o.UserID]
	if !ok {
		return model.ErrUnknownUser
	}
	if u.Balance.LessThan(o.Amount) {
		return model.ErrInsufficientBalance
	}

	u.Balance = u.Balance.Sub(o.Amount)
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) FindOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, model.ErrUnknownOrder
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) FindOrdersByUser(_ context.Context, userID string) ([]model.Order, error) {
	return s.filterOrders(func(o *model.Order) bool { return o.UserID == userID }), nil
}

func (s *MemoryStore) FindPendingOrders(_ context.Context) ([]model.Order, error) {
	return s.filterOrders(func(o *model.Order) bool { return o.Outcome == model.OutcomePending }), nil
}

func (s *MemoryStore) FindUnresolvedOrders(_ context.Context) ([]model.Order, error) {
	return s.filterOrders(func(o *model.Order) bool { return o.Outcome == model.OutcomeUnresolved }), nil
}

func (s *MemoryStore) filterOrders(keep func(*model.Order) bool) []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

func (s *MemoryStore) SumOpenExposure(_ context.Context, symbolID string) (model.ExposureTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := model.ExposureTotals{Up: decimal.Zero, Down: decimal.Zero}
	for _, o := range s.orders {
		if o.SymbolID != symbolID || o.Outcome != model.OutcomePending {
			continue
		}
		switch o.Direction {
		case model.DirectionUp:
			totals.Up = totals.Up.Add(o.Amount)
		case model.DirectionDown:
			totals.Down = totals.Down.Add(o.Amount)
		}
	}
	return totals, nil
}

func (s *MemoryStore) SettleOrder(_ context.Context, orderID string, exitPrice decimal.Decimal, outcome model.Outcome, profitLoss, credit decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return model.ErrUnknownOrder
	}
	if o.Outcome != model.OutcomePending {
		return model.ErrAlreadySettled
	}

	now := time.Now().UTC()
	o.Outcome = outcome
	o.ExitPrice = exitPrice
	o.ProfitLoss = profitLoss
	o.SettledAt = &now

	if credit.IsPositive() {
		if u, ok := s.users[o.UserID]; ok {
			u.Balance = u.Balance.Add(credit)
		}
	}
	return nil
}

func (s *MemoryStore) MarkUnresolved(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return model.ErrUnknownOrder
	}
	if o.Outcome != model.OutcomePending {
		return model.ErrAlreadySettled
	}
	now := time.Now().UTC()
	o.Outcome = model.OutcomeUnresolved
	o.SettledAt = &now
	return nil
}
