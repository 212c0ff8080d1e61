// Package store defines the persistence interface for the option engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
)

// Store is the persistence interface. All balance and order-outcome
// mutations happen inside store-level transactions; the engine holds no
// cross-order locks of its own.
type Store interface {
	// --- Users ---

	// CreateUser persists a new account.
	CreateUser(ctx context.Context, user *model.User) error

	// FindUser retrieves a user by id. Returns model.ErrUnknownUser if absent.
	FindUser(ctx context.Context, id string) (*model.User, error)

	// --- Symbols ---

	// CreateSymbol persists a new tradable instrument.
	CreateSymbol(ctx context.Context, symbol *model.Symbol) error

	// FindSymbol retrieves a symbol by its feed ticker.
	// Returns model.ErrUnknownSymbol if absent.
	FindSymbol(ctx context.Context, ticker string) (*model.Symbol, error)

	// FindSymbolByID retrieves a symbol by id.
	FindSymbolByID(ctx context.Context, id string) (*model.Symbol, error)

	// ListSymbols returns all symbols.
	ListSymbols(ctx context.Context) ([]model.Symbol, error)

	// UpdateSymbolPrices refreshes the last raw/published prices. The write
	// is a no-op when the stored observation is at or after observedAt, so
	// an older observation never overwrites a newer one.
	UpdateSymbolPrices(ctx context.Context, id string, raw, published decimal.Decimal, observedAt time.Time) error

	// --- Orders ---

	// CreateOrder atomically debits the user's balance by order.Amount and
	// inserts the order: either both happen or neither. Returns
	// model.ErrUnknownUser or model.ErrInsufficientBalance without mutating.
	CreateOrder(ctx context.Context, order *model.Order) error

	// FindOrder retrieves an order by id. Returns model.ErrUnknownOrder if absent.
	FindOrder(ctx context.Context, id string) (*model.Order, error)

	// FindOrdersByUser returns all orders for a user, newest first.
	FindOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)

	// FindPendingOrders returns every order with a pending outcome, for
	// settlement re-scheduling after a restart.
	FindPendingOrders(ctx context.Context) ([]model.Order, error)

	// FindUnresolvedOrders returns orders awaiting operator resolution.
	FindUnresolvedOrders(ctx context.Context) ([]model.Order, error)

	// SumOpenExposure sums staked amounts by direction over pending orders
	// for a symbol, evaluated against the live store at call time.
	SumOpenExposure(ctx context.Context, symbolID string) (model.ExposureTotals, error)

	// SettleOrder writes the terminal outcome, exit price and profit/loss,
	// and credits the user's balance by credit when positive, all in one
	// transaction guarded by outcome = pending. Returns
	// model.ErrAlreadySettled if the guard finds a terminal outcome.
	SettleOrder(ctx context.Context, orderID string, exitPrice decimal.Decimal, outcome model.Outcome, profitLoss, credit decimal.Decimal) error

	// MarkUnresolved moves a pending order to the unresolved terminal state,
	// guarded the same way as SettleOrder. The debited stake is untouched.
	MarkUnresolved(ctx context.Context, orderID string) error
}
