// Package pricing implements the venue's price manipulation function: a
// deterministic bias applied to the raw market price, proportional to the
// directional exposure imbalance among open orders.
//
// The venue quotes against the crowd: when one side holds more than the
// threshold share of open exposure, the published price is nudged so that
// side is less likely to win, bounding the venue's payout ratio.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The function is pure; optional jitter is isolated behind an injectable
// source so it stays reproducible in tests.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidRawPrice is returned when the raw price is zero or negative.
	// A non-positive price is invalid input, never silently propagated.
	ErrInvalidRawPrice = errors.New("pricing: raw price must be positive")

	// ErrInvalidThreshold is returned when the bias threshold is outside (0.5, 1).
	ErrInvalidThreshold = errors.New("pricing: threshold must be in (0.5, 1)")

	// PriceScale is the number of decimal places for published price rounding.
	PriceScale int32 = 8
)

// Default bias constants. Overridable per Engine; they are configuration,
// not hardcoded business rules.
var (
	DefaultThreshold      = decimal.NewFromFloat(0.6)
	DefaultDownMultiplier = decimal.NewFromFloat(0.998)
	DefaultUpMultiplier   = decimal.NewFromFloat(1.002)
)

// JitterSource supplies a multiplicative factor near 1 used to mask the bias.
// Implementations must be safe to call from the publish loop and settlement
// concurrently.
type JitterSource interface {
	Factor() decimal.Decimal
}

// Engine computes published/settlement prices from raw prices and exposure.
// It is stateless — exposure totals are passed as arguments, not stored.
type Engine struct {
	threshold      decimal.Decimal
	downMultiplier decimal.Decimal
	upMultiplier   decimal.Decimal
	jitter         JitterSource
}

// NewEngine creates a pricing engine with the given bias constants.
func NewEngine(threshold, downMultiplier, upMultiplier decimal.Decimal) (*Engine, error) {
	half := decimal.NewFromFloat(0.5)
	if threshold.LessThanOrEqual(half) || threshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, ErrInvalidThreshold
	}
	return &Engine{
		threshold:      threshold,
		downMultiplier: downMultiplier,
		upMultiplier:   upMultiplier,
	}, nil
}

// Default returns an engine with the stock 0.6 / 0.998 / 1.002 constants.
func Default() *Engine {
	e, _ := NewEngine(DefaultThreshold, DefaultDownMultiplier, DefaultUpMultiplier)
	return e
}

// WithJitter enables the injectable jitter source. Pass nil to disable.
func (e *Engine) WithJitter(src JitterSource) *Engine {
	e.jitter = src
	return e
}

// Publish derives the published price from the raw price and the open
// exposure on each side:
//
//  1. zero total exposure → raw unchanged
//  2. up share > threshold → raw * downMultiplier (up bets less likely to win)
//  3. down share > threshold → raw * upMultiplier (down bets less likely to win)
//  4. otherwise raw unchanged
//
// The same function prices both the live stream and settlement.
func (e *Engine) Publish(raw, upAmount, downAmount decimal.Decimal) (decimal.Decimal, error) {
	if raw.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, ErrInvalidRawPrice
	}

	total := upAmount.Add(downAmount)
	if total.IsZero() {
		return e.applyJitter(raw), nil
	}

	upRatio := upAmount.Div(total)
	downRatio := decimal.NewFromInt(1).Sub(upRatio)

	price := raw
	switch {
	case upRatio.GreaterThan(e.threshold):
		price = raw.Mul(e.downMultiplier)
	case downRatio.GreaterThan(e.threshold):
		price = raw.Mul(e.upMultiplier)
	}

	return e.applyJitter(price).Round(PriceScale), nil
}

func (e *Engine) applyJitter(price decimal.Decimal) decimal.Decimal {
	if e.jitter == nil {
		return price
	}
	return price.Mul(e.jitter.Factor())
}
