// Package trade provides the HTTP handlers and business logic for order
// intake and the read-side queries of the option engine.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/metrics"
	"github.com/binarex/option-engine/internal/model"
	"github.com/binarex/option-engine/internal/quote"
	"github.com/binarex/option-engine/internal/store"
)

// Subscriber ensures the feed tracks a ticker a client is interested in.
type Subscriber interface {
	Subscribe(ticker string) error
}

// Tracker arms the one-shot settlement for an accepted order.
type Tracker interface {
	Track(order model.Order)
}

// Service handles order intake and queries. The intake commit itself is a
// single store transaction; the service holds no lock of its own.
type Service struct {
	store       store.Store
	quoter      *quote.Quoter
	feed        Subscriber
	scheduler   Tracker
	payoutRatio decimal.Decimal
}

// NewService creates a trade service. feed and scheduler may be nil in
// read-only test setups.
func NewService(st store.Store, quoter *quote.Quoter, feed Subscriber, scheduler Tracker, payoutRatio decimal.Decimal) *Service {
	return &Service{
		store:       st,
		quoter:      quoter,
		feed:        feed,
		scheduler:   scheduler,
		payoutRatio: payoutRatio,
	}
}

// OrderRequest is an incoming stake.
type OrderRequest struct {
	UserID    string          `json:"user_id"`
	Symbol    string          `json:"symbol"` // feed ticker
	Amount    decimal.Decimal `json:"amount"`
	Direction model.Direction `json:"direction"`
	Duration  int64           `json:"duration_sec"`
}

// PlaceOrder validates the request against the current balance and symbol
// set, then commits the order and the stake debit in one transaction.
// The entry price is the current published (manipulated) price.
//
// Rejections are distinguishable via the model sentinels: invalid input,
// insufficient balance, unknown user/symbol, price unavailable.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (*model.Order, error) {
	if req.UserID == "" || req.Symbol == "" {
		return nil, fmt.Errorf("%w: user_id and symbol are required", model.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidInput)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration_sec must be positive", model.ErrInvalidInput)
	}
	if !req.Direction.Valid() {
		return nil, fmt.Errorf("%w: direction must be up or down", model.ErrInvalidInput)
	}

	sym, err := s.store.FindSymbol(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}

	// Reject unknown users before quoting; the balance check itself happens
	// under the row lock inside the intake transaction.
	if _, err := s.store.FindUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	entryPrice, _, totals, err := s.quoter.Published(ctx, sym)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &model.Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		SymbolID:        sym.ID,
		Amount:          req.Amount,
		Direction:       req.Direction,
		EntryPrice:      entryPrice,
		PayoutRatio:     s.payoutRatio,
		Duration:        req.Duration,
		EntryUpAmount:   totals.Up,
		EntryDownAmount: totals.Down,
		Outcome:         model.OutcomePending,
		ExitPrice:       decimal.Zero,
		ProfitLoss:      decimal.Zero,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(req.Duration) * time.Second),
	}

	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	if s.scheduler != nil {
		s.scheduler.Track(*order)
	}

	metrics.OrdersPlacedTotal.WithLabelValues(string(order.Direction)).Inc()
	slog.Info("order placed",
		"order", order.ID,
		"user", order.UserID,
		"symbol", sym.Ticker,
		"direction", order.Direction,
		"amount", order.Amount.String(),
		"entry_price", order.EntryPrice.String(),
		"expires_at", order.ExpiresAt,
	)

	return order, nil
}

// PublishedPrice returns the current published price for a ticker and makes
// sure the feed is tracking it going forward.
func (s *Service) PublishedPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	sym, err := s.store.FindSymbol(ctx, ticker)
	if err != nil {
		return decimal.Zero, err
	}

	if s.feed != nil {
		if err := s.feed.Subscribe(sym.Ticker); err != nil {
			slog.Warn("feed subscribe failed", "ticker", sym.Ticker, "err", err)
		}
	}

	price, _, _, err := s.quoter.Published(ctx, sym)
	if err != nil {
		return decimal.Zero, err
	}
	return price, nil
}
