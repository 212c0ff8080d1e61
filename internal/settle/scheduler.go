// Package settle arranges the one-shot settlement of every accepted order at
// its expiry. In-memory timers are an optimization, not the source of truth:
// pending orders are re-scanned from the store on startup, and the terminal
// write is guarded by an outcome = pending check inside the store
// transaction, so a duplicate timer or a racing process settles at most once.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/metrics"
	"github.com/binarex/option-engine/internal/model"
	"github.com/binarex/option-engine/internal/pricecache"
	"github.com/binarex/option-engine/internal/pricing"
	"github.com/binarex/option-engine/internal/store"
)

// PriceFetcher is the fallback price source used when the cache has no
// observation at fire time. Its retry/timeout budget lives inside the
// implementation and is separate from the scheduler's own retry ladder.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// Options tune the scheduler's retry ladder and exposure policy.
type Options struct {
	// RetryDelay is the base delay between settlement attempts; attempt n
	// waits n * RetryDelay, so delays increase linearly.
	RetryDelay time.Duration
	// MaxRetries bounds re-attempts after the first; once spent, the order
	// is marked unresolved for operator resolution.
	MaxRetries int
	// EntryExposure settles against the exposure snapshot taken at
	// acceptance instead of a fresh recompute.
	EntryExposure bool
}

// Scheduler fires settlement for tracked orders at their expiry.
type Scheduler struct {
	store    store.Store
	cache    *pricecache.Cache
	engine   *pricing.Engine
	fallback PriceFetcher
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a scheduler. fallback may be nil (cache-only settlement).
func New(st store.Store, cache *pricecache.Cache, engine *pricing.Engine, fallback PriceFetcher, opts Options) *Scheduler {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	return &Scheduler{
		store:    st,
		cache:    cache,
		engine:   engine,
		fallback: fallback,
		opts:     opts,
		timers:   make(map[string]*time.Timer),
	}
}

// Start binds the scheduler's lifetime to ctx. Must be called before Track.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight settlements and disarms pending timers.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	for id, t := range s.timers {
		if t.Stop() {
			// Timer disarmed before firing; release its slot in the group.
			s.wg.Done()
		}
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Track arms one settlement timer for order at its expiry. Past-due orders
// fire immediately. Tracking an already-tracked or non-pending order is a
// no-op.
func (s *Scheduler) Track(order model.Order) {
	if order.Outcome != model.OutcomePending {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[order.ID]; ok {
		return
	}

	delay := time.Until(order.ExpiresAt)
	if delay < 0 {
		delay = 0
	}

	orderID := order.ID
	s.wg.Add(1)
	s.timers[orderID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		defer s.forget(orderID)
		s.settle(orderID)
	})
}

// Recover re-scans pending orders from the store and re-arms their timers.
// Called on startup so a process restart loses no scheduled settlements.
func (s *Scheduler) Recover(ctx context.Context) error {
	orders, err := s.store.FindPendingOrders(ctx)
	if err != nil {
		return fmt.Errorf("scan pending orders: %w", err)
	}
	for _, o := range orders {
		s.Track(o)
	}
	slog.Info("settlement schedule recovered", "pending", len(orders))
	return nil
}

// Tracked reports whether a timer is currently armed for orderID.
func (s *Scheduler) Tracked(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[orderID]
	return ok
}

func (s *Scheduler) forget(orderID string) {
	s.mu.Lock()
	delete(s.timers, orderID)
	s.mu.Unlock()
}

// settle drives the retry ladder for one order. Every failure path is
// bounded: after MaxRetries the order goes to unresolved — never silently
// dropped, never retried forever, never double-credited.
func (s *Scheduler) settle(orderID string) {
	ctx := s.ctx

	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.SettlementRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * s.opts.RetryDelay):
			}
		}

		err := s.settleOnce(ctx, orderID)
		if err == nil || errors.Is(err, model.ErrAlreadySettled) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		slog.Warn("settlement attempt failed",
			"order", orderID, "attempt", attempt, "err", err)
	}

	if err := s.store.MarkUnresolved(ctx, orderID); err != nil {
		if !errors.Is(err, model.ErrAlreadySettled) {
			slog.Error("failed to mark order unresolved", "order", orderID, "err", err)
		}
		return
	}
	metrics.SettlementsTotal.WithLabelValues(string(model.OutcomeUnresolved)).Inc()
	slog.Error("order unresolved, operator action required", "order", orderID)
}

func (s *Scheduler) settleOnce(ctx context.Context, orderID string) error {
	order, err := s.store.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Outcome != model.OutcomePending {
		return nil // settled elsewhere; nothing to do
	}

	sym, err := s.store.FindSymbolByID(ctx, order.SymbolID)
	if err != nil {
		return err
	}

	raw, err := s.currentRaw(ctx, sym.Ticker)
	if err != nil {
		return err
	}

	totals := model.ExposureTotals{Up: order.EntryUpAmount, Down: order.EntryDownAmount}
	if !s.opts.EntryExposure {
		totals, err = s.store.SumOpenExposure(ctx, order.SymbolID)
		if err != nil {
			return fmt.Errorf("sum exposure: %w", err)
		}
	}

	settlementPrice, err := s.engine.Publish(raw, totals.Up, totals.Down)
	if err != nil {
		return fmt.Errorf("settlement price: %w", err)
	}

	won := (order.Direction == model.DirectionUp && settlementPrice.GreaterThan(order.EntryPrice)) ||
		(order.Direction == model.DirectionDown && settlementPrice.LessThan(order.EntryPrice))

	outcome := model.OutcomeLoss
	profitLoss := order.Amount.Neg()
	credit := decimal.Zero
	if won {
		outcome = model.OutcomeWin
		profitLoss = order.Amount.Mul(order.PayoutRatio)
		credit = order.Amount.Add(profitLoss)
	}

	err = s.store.SettleOrder(ctx, orderID, settlementPrice, outcome, profitLoss, credit)
	if errors.Is(err, model.ErrAlreadySettled) {
		// A concurrent settle won the race; success no-op.
		return err
	}
	if err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues(string(outcome)).Inc()
	slog.Info("order settled",
		"order", orderID,
		"symbol", sym.Ticker,
		"outcome", outcome,
		"entry_price", order.EntryPrice.String(),
		"exit_price", settlementPrice.String(),
		"profit_loss", profitLoss.String(),
	)
	return nil
}

// currentRaw prefers the price cache; on a miss it falls back to a fresh
// fetch. If neither source has a price the order cannot be settled yet.
func (s *Scheduler) currentRaw(ctx context.Context, ticker string) (decimal.Decimal, error) {
	if q, ok := s.cache.Get(ticker); ok {
		return q.Price, nil
	}
	if s.fallback != nil {
		price, err := s.fallback.FetchPrice(ctx, ticker)
		if err == nil {
			return price, nil
		}
		return decimal.Zero, fmt.Errorf("%w: %s (fallback: %v)", model.ErrPriceUnavailable, ticker, err)
	}
	return decimal.Zero, fmt.Errorf("%w: %s", model.ErrPriceUnavailable, ticker)
}
