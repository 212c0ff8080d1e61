// Package model defines the core domain types shared across the option engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of a binary option stake.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Valid reports whether d is a recognized direction.
func (d Direction) Valid() bool {
	return d == DirectionUp || d == DirectionDown
}

// Outcome is the settlement state of an order.
//
// Transitions: pending → win | loss | unresolved, exactly once.
// unresolved is terminal-but-flagged: the stake was debited and settlement
// exhausted its retries without a usable price. It requires operator
// resolution and is never reinterpreted as a loss.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeWin        Outcome = "win"
	OutcomeLoss       Outcome = "loss"
	OutcomeUnresolved Outcome = "unresolved"
)

// Intake rejection and settlement sentinels. Callers distinguish these with
// errors.Is to render different messages.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnknownUser         = errors.New("user not found")
	ErrUnknownSymbol       = errors.New("symbol not found")
	ErrUnknownOrder        = errors.New("order not found")
	ErrPriceUnavailable    = errors.New("price unavailable")

	// ErrAlreadySettled is returned by the store when the transactional
	// pending-guard finds a terminal outcome already written. Settlement
	// treats it as a success no-op, keeping the guard idempotent.
	ErrAlreadySettled = errors.New("order already settled")
)

// Symbol identifies a tradable instrument tracked on the upstream feed.
// LastRaw/LastPublished are monotonically refreshed: a write carrying an
// older observation never overwrites a newer one.
type Symbol struct {
	ID            string          `json:"id" db:"id"`
	Ticker        string          `json:"ticker" db:"ticker"` // upstream feed ticker, e.g. BTCUSDT
	LastRaw       decimal.Decimal `json:"last_raw" db:"last_raw"`
	LastPublished decimal.Decimal `json:"last_published" db:"last_published"`
	PriceAt       time.Time       `json:"price_at" db:"price_at"` // observation time of LastRaw
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Order is a single directional stake. EntryPrice and PayoutRatio are
// immutable after creation; the terminal fields (Outcome, ExitPrice,
// ProfitLoss, SettledAt) are owned exclusively by the settlement flow.
type Order struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	SymbolID    string          `json:"symbol_id" db:"symbol_id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Direction   Direction       `json:"direction" db:"direction"`
	EntryPrice  decimal.Decimal `json:"entry_price" db:"entry_price"`
	PayoutRatio decimal.Decimal `json:"payout_ratio" db:"payout_ratio"` // fraction of stake returned on win
	Duration    int64           `json:"duration_sec" db:"duration_sec"`
	// EntryUpAmount/EntryDownAmount snapshot the open exposure at acceptance
	// time so the settlement exposure policy can be flipped without losing data.
	EntryUpAmount   decimal.Decimal `json:"entry_up_amount" db:"entry_up_amount"`
	EntryDownAmount decimal.Decimal `json:"entry_down_amount" db:"entry_down_amount"`
	Outcome         Outcome         `json:"outcome" db:"outcome"`
	ExitPrice       decimal.Decimal `json:"exit_price" db:"exit_price"`
	ProfitLoss      decimal.Decimal `json:"profit_loss" db:"profit_loss"` // signed; zero until settled
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at" db:"expires_at"`
	SettledAt       *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// User is an account with a non-negative balance. The balance is mutated only
// through debit-on-intake and credit-on-settlement, both inside store
// transactions.
type User struct {
	ID        string          `json:"id" db:"id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// ExposureTotals is the derived open-stake sum per side for one symbol,
// computed on demand against the live store — never cached, because the
// manipulation decision is economically load-bearing.
type ExposureTotals struct {
	Up   decimal.Decimal `json:"up"`
	Down decimal.Decimal `json:"down"`
}

// Total returns Up + Down.
func (e ExposureTotals) Total() decimal.Decimal {
	return e.Up.Add(e.Down)
}
