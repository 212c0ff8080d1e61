package settle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
	"github.com/binarex/option-engine/internal/pricecache"
	"github.com/binarex/option-engine/internal/pricing"
	"github.com/binarex/option-engine/internal/settle"
	"github.com/binarex/option-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type env struct {
	store  *store.MemoryStore
	cache  *pricecache.Cache
	engine *pricing.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store:  store.NewMemoryStore(),
		cache:  pricecache.New(),
		engine: pricing.Default(),
	}
	ctx := context.Background()
	if err := e.store.CreateUser(ctx, &model.User{ID: "u1", Balance: d(1000), CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := e.store.CreateSymbol(ctx, &model.Symbol{ID: "s1", Ticker: "BTCUSDT", CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("seed symbol: %v", err)
	}
	return e
}

func (e *env) scheduler(fallback settle.PriceFetcher, opts settle.Options) *settle.Scheduler {
	s := settle.New(e.store, e.cache, e.engine, fallback, opts)
	s.Start(context.Background())
	return s
}

// placeOrder commits a pending order through the store so the stake debit is
// real and exposure sums see it.
func (e *env) placeOrder(t *testing.T, id string, amount float64, dir model.Direction, entry float64, expiresIn time.Duration) model.Order {
	t.Helper()
	now := time.Now().UTC()
	order := model.Order{
		ID:          id,
		UserID:      "u1",
		SymbolID:    "s1",
		Amount:      d(amount),
		Direction:   dir,
		EntryPrice:  d(entry),
		PayoutRatio: d(0.8),
		Duration:    int64(expiresIn / time.Second),
		Outcome:     model.OutcomePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(expiresIn),
	}
	if err := e.store.CreateOrder(context.Background(), &order); err != nil {
		t.Fatalf("place order: %v", err)
	}
	return order
}

func waitOutcome(t *testing.T, ms *store.MemoryStore, orderID string, want model.Outcome) model.Order {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		o, err := ms.FindOrder(context.Background(), orderID)
		if err != nil {
			t.Fatalf("find order: %v", err)
		}
		if o.Outcome == want {
			return *o
		}
		time.Sleep(5 * time.Millisecond)
	}
	o, _ := ms.FindOrder(context.Background(), orderID)
	t.Fatalf("timed out waiting for outcome %s, order is %s", want, o.Outcome)
	return model.Order{}
}

func TestSettle_WinCreditsStakePlusPayout(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s.Stop()

	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	// Raw 110 with all-up exposure publishes at 109.78, still above entry.
	e.cache.Set("BTCUSDT", d(110), time.Now().UTC())

	s.Track(order)
	settled := waitOutcome(t, e.store, "o1", model.OutcomeWin)

	if !settled.ProfitLoss.Equal(d(40)) {
		t.Errorf("expected profit 40 (50 * 0.8), got %s", settled.ProfitLoss)
	}
	if settled.SettledAt == nil {
		t.Error("expected settled_at to be stamped")
	}
	if !settled.ExitPrice.Equal(decimal.RequireFromString("109.78")) {
		t.Errorf("expected biased exit price 109.78, got %s", settled.ExitPrice)
	}

	// 1000 - 50 stake + 90 credit.
	u, _ := e.store.FindUser(context.Background(), "u1")
	if !u.Balance.Equal(d(1040)) {
		t.Errorf("expected balance 1040, got %s", u.Balance)
	}
}

func TestSettle_LossCreditsNothing(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s.Stop()

	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	e.cache.Set("BTCUSDT", d(90), time.Now().UTC())

	s.Track(order)
	settled := waitOutcome(t, e.store, "o1", model.OutcomeLoss)

	if !settled.ProfitLoss.Equal(d(-50)) {
		t.Errorf("expected loss of the full stake, got %s", settled.ProfitLoss)
	}
	u, _ := e.store.FindUser(context.Background(), "u1")
	if !u.Balance.Equal(d(950)) {
		t.Errorf("expected balance 950 (stake gone), got %s", u.Balance)
	}
}

func TestSettle_TieIsLoss(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2, EntryExposure: true})
	defer s.Stop()

	// Entry exposure snapshot is zero for both sides, so the settlement price
	// equals the raw price exactly and can tie the entry.
	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	e.cache.Set("BTCUSDT", d(100), time.Now().UTC())

	s.Track(order)
	settled := waitOutcome(t, e.store, "o1", model.OutcomeLoss)
	if !settled.ExitPrice.Equal(d(100)) {
		t.Errorf("expected exit at exactly 100, got %s", settled.ExitPrice)
	}
}

func TestSettle_DownDirectionWinsOnDrop(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s.Stop()

	order := e.placeOrder(t, "o1", 50, model.DirectionDown, 100, -time.Second)
	e.cache.Set("BTCUSDT", d(90), time.Now().UTC())

	s.Track(order)
	waitOutcome(t, e.store, "o1", model.OutcomeWin)
}

type stubFetcher struct {
	price decimal.Decimal
	err   error
	calls atomic.Int64
}

func (f *stubFetcher) FetchPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	f.calls.Add(1)
	return f.price, f.err
}

func TestSettle_FallbackFetchOnCacheMiss(t *testing.T) {
	e := newEnv(t)
	fetcher := &stubFetcher{price: d(110)}
	s := e.scheduler(fetcher, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s.Stop()

	// Cache deliberately empty.
	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	s.Track(order)

	waitOutcome(t, e.store, "o1", model.OutcomeWin)
	if fetcher.calls.Load() == 0 {
		t.Error("fallback fetcher was never consulted")
	}
}

func TestSettle_ExhaustedRetriesMarkUnresolved(t *testing.T) {
	e := newEnv(t)
	fetcher := &stubFetcher{err: errors.New("upstream down")}
	s := e.scheduler(fetcher, settle.Options{RetryDelay: 5 * time.Millisecond, MaxRetries: 3})
	defer s.Stop()

	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	s.Track(order)

	waitOutcome(t, e.store, "o1", model.OutcomeUnresolved)

	// First attempt plus three retries.
	if got := fetcher.calls.Load(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}

	// The stake stays debited; unresolved is not a refund.
	u, _ := e.store.FindUser(context.Background(), "u1")
	if !u.Balance.Equal(d(950)) {
		t.Errorf("expected balance 950, got %s", u.Balance)
	}
}

func TestSettle_RecoversAfterTransientPriceGap(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 20 * time.Millisecond, MaxRetries: 5})
	defer s.Stop()

	// No price at fire time; one lands mid-ladder.
	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	s.Track(order)

	time.Sleep(30 * time.Millisecond)
	e.cache.Set("BTCUSDT", d(110), time.Now().UTC())

	waitOutcome(t, e.store, "o1", model.OutcomeWin)
}

func TestTrack_DuplicateAndNonPendingAreNoOps(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s.Stop()

	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, time.Hour)
	s.Track(order)
	if !s.Tracked("o1") {
		t.Fatal("expected o1 to be tracked")
	}
	s.Track(order) // duplicate: must not double-arm

	settledOrder := order
	settledOrder.ID = "o2"
	settledOrder.Outcome = model.OutcomeWin
	s.Track(settledOrder)
	if s.Tracked("o2") {
		t.Error("non-pending order must not be tracked")
	}
}

func TestRecover_ArmsPendingOrders(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s.Stop()

	// Simulates a restart: orders exist in the store, no timers armed.
	e.placeOrder(t, "due", 50, model.DirectionUp, 100, -time.Second)
	e.placeOrder(t, "future", 50, model.DirectionUp, 100, time.Hour)
	e.cache.Set("BTCUSDT", d(110), time.Now().UTC())

	if err := s.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	waitOutcome(t, e.store, "due", model.OutcomeWin)
	if !s.Tracked("future") {
		t.Error("future order should stay armed after recovery")
	}
	o, _ := e.store.FindOrder(context.Background(), "future")
	if o.Outcome != model.OutcomePending {
		t.Errorf("future order settled early: %s", o.Outcome)
	}
}

func TestSettle_ConcurrentSchedulersCreditOnce(t *testing.T) {
	e := newEnv(t)
	// Two schedulers over the same store, as in a double-armed timer or a
	// second process racing the first.
	s1 := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s1.Stop()
	s2 := e.scheduler(nil, settle.Options{RetryDelay: 10 * time.Millisecond, MaxRetries: 2})
	defer s2.Stop()

	order := e.placeOrder(t, "o1", 50, model.DirectionUp, 100, -time.Second)
	e.cache.Set("BTCUSDT", d(110), time.Now().UTC())

	s1.Track(order)
	s2.Track(order)

	waitOutcome(t, e.store, "o1", model.OutcomeWin)
	// Give the losing racer time to run into the guard.
	time.Sleep(50 * time.Millisecond)

	u, _ := e.store.FindUser(context.Background(), "u1")
	if !u.Balance.Equal(d(1040)) {
		t.Errorf("expected exactly one credit (balance 1040), got %s", u.Balance)
	}
}
