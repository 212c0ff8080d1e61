package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
	"github.com/binarex/option-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedUser(t *testing.T, ms *store.MemoryStore, id string, balance float64) {
	t.Helper()
	err := ms.CreateUser(context.Background(), &model.User{
		ID:        id,
		Balance:   d(balance),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func seedSymbol(t *testing.T, ms *store.MemoryStore, id, ticker string) {
	t.Helper()
	err := ms.CreateSymbol(context.Background(), &model.Symbol{
		ID:        id,
		Ticker:    ticker,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed symbol: %v", err)
	}
}

func pendingOrder(id, userID, symbolID string, amount float64, dir model.Direction) *model.Order {
	now := time.Now().UTC()
	return &model.Order{
		ID:          id,
		UserID:      userID,
		SymbolID:    symbolID,
		Amount:      d(amount),
		Direction:   dir,
		EntryPrice:  d(100),
		PayoutRatio: d(0.8),
		Duration:    60,
		Outcome:     model.OutcomePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
	}
}

func TestCreateOrder_DebitsBalance(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 100)
	seedSymbol(t, ms, "s1", "BTCUSDT")

	if err := ms.CreateOrder(ctx, pendingOrder("o1", "u1", "s1", 30, model.DirectionUp)); err != nil {
		t.Fatalf("create order: %v", err)
	}

	u, _ := ms.FindUser(ctx, "u1")
	if !u.Balance.Equal(d(70)) {
		t.Errorf("expected balance 70 after debit, got %s", u.Balance)
	}
}

func TestCreateOrder_InsufficientBalanceLeavesStateUnchanged(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 10)
	seedSymbol(t, ms, "s1", "BTCUSDT")

	err := ms.CreateOrder(ctx, pendingOrder("o1", "u1", "s1", 30, model.DirectionUp))
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	u, _ := ms.FindUser(ctx, "u1")
	if !u.Balance.Equal(d(10)) {
		t.Errorf("balance mutated on rejected intake: %s", u.Balance)
	}
	if _, err := ms.FindOrder(ctx, "o1"); !errors.Is(err, model.ErrUnknownOrder) {
		t.Error("order should not exist after rejection")
	}
}

func TestCreateOrder_UnknownUser(t *testing.T) {
	ms := store.NewMemoryStore()
	err := ms.CreateOrder(context.Background(), pendingOrder("o1", "ghost", "s1", 30, model.DirectionUp))
	if !errors.Is(err, model.ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestSumOpenExposure_PendingOnly(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 1000)
	seedSymbol(t, ms, "s1", "BTCUSDT")
	seedSymbol(t, ms, "s2", "ETHUSDT")

	ms.CreateOrder(ctx, pendingOrder("o1", "u1", "s1", 70, model.DirectionUp))
	ms.CreateOrder(ctx, pendingOrder("o2", "u1", "s1", 30, model.DirectionDown))
	ms.CreateOrder(ctx, pendingOrder("o3", "u1", "s2", 500, model.DirectionUp)) // other symbol

	// Settle o1; it must drop out of the exposure sums.
	if err := ms.SettleOrder(ctx, "o1", d(101), model.OutcomeWin, d(56), d(126)); err != nil {
		t.Fatalf("settle: %v", err)
	}

	totals, err := ms.SumOpenExposure(ctx, "s1")
	if err != nil {
		t.Fatalf("sum exposure: %v", err)
	}
	if !totals.Up.Equal(decimal.Zero) {
		t.Errorf("expected up exposure 0 after settle, got %s", totals.Up)
	}
	if !totals.Down.Equal(d(30)) {
		t.Errorf("expected down exposure 30, got %s", totals.Down)
	}
}

func TestSettleOrder_GuardIsIdempotent(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 100)
	seedSymbol(t, ms, "s1", "BTCUSDT")
	ms.CreateOrder(ctx, pendingOrder("o1", "u1", "s1", 50, model.DirectionUp))

	if err := ms.SettleOrder(ctx, "o1", d(110), model.OutcomeWin, d(40), d(90)); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	err := ms.SettleOrder(ctx, "o1", d(110), model.OutcomeWin, d(40), d(90))
	if !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("second settle should hit the guard, got %v", err)
	}

	// Exactly one credit: 100 - 50 + 90 = 140.
	u, _ := ms.FindUser(ctx, "u1")
	if !u.Balance.Equal(d(140)) {
		t.Errorf("expected balance 140 after one credit, got %s", u.Balance)
	}
}

func TestSettleOrder_ConcurrentDoubleSettleCreditsOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 100)
	seedSymbol(t, ms, "s1", "BTCUSDT")
	ms.CreateOrder(ctx, pendingOrder("o1", "u1", "s1", 50, model.DirectionUp))

	var wg sync.WaitGroup
	var settled, conflicted int
	var mu sync.Mutex

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ms.SettleOrder(ctx, "o1", d(110), model.OutcomeWin, d(40), d(90))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				settled++
			case errors.Is(err, model.ErrAlreadySettled):
				conflicted++
			}
		}()
	}
	wg.Wait()

	if settled != 1 {
		t.Errorf("expected exactly one successful settle, got %d", settled)
	}
	if conflicted != 7 {
		t.Errorf("expected 7 conflicts, got %d", conflicted)
	}

	u, _ := ms.FindUser(ctx, "u1")
	if !u.Balance.Equal(d(140)) {
		t.Errorf("expected balance 140, got %s", u.Balance)
	}
}

func TestMarkUnresolved_GuardedLikeSettle(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 100)
	seedSymbol(t, ms, "s1", "BTCUSDT")
	ms.CreateOrder(ctx, pendingOrder("o1", "u1", "s1", 50, model.DirectionUp))

	if err := ms.MarkUnresolved(ctx, "o1"); err != nil {
		t.Fatalf("mark unresolved: %v", err)
	}
	if err := ms.MarkUnresolved(ctx, "o1"); !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("expected guard on second mark, got %v", err)
	}
	if err := ms.SettleOrder(ctx, "o1", d(110), model.OutcomeWin, d(40), d(90)); !errors.Is(err, model.ErrAlreadySettled) {
		t.Fatalf("settle after unresolved should hit the guard, got %v", err)
	}

	// The debited stake stays where it is: no credit, no refund.
	u, _ := ms.FindUser(ctx, "u1")
	if !u.Balance.Equal(d(50)) {
		t.Errorf("expected balance 50, got %s", u.Balance)
	}

	unresolved, _ := ms.FindUnresolvedOrders(ctx)
	if len(unresolved) != 1 || unresolved[0].ID != "o1" {
		t.Errorf("expected o1 in unresolved view, got %+v", unresolved)
	}
}

func TestUpdateSymbolPrices_MonotonicRefresh(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedSymbol(t, ms, "s1", "BTCUSDT")
	base := time.Now().UTC()

	if err := ms.UpdateSymbolPrices(ctx, "s1", d(100), d(99.8), base.Add(5*time.Second)); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Older observation: no-op.
	if err := ms.UpdateSymbolPrices(ctx, "s1", d(90), d(89.8), base.Add(3*time.Second)); err != nil {
		t.Fatalf("stale update: %v", err)
	}

	sym, _ := ms.FindSymbolByID(ctx, "s1")
	if !sym.LastRaw.Equal(d(100)) {
		t.Errorf("stale write overwrote raw price: %s", sym.LastRaw)
	}
	if !sym.LastPublished.Equal(d(99.8)) {
		t.Errorf("stale write overwrote published price: %s", sym.LastPublished)
	}
}

func TestFindPendingOrders_SortedByExpiry(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	seedUser(t, ms, "u1", 1000)
	seedSymbol(t, ms, "s1", "BTCUSDT")

	late := pendingOrder("late", "u1", "s1", 10, model.DirectionUp)
	late.ExpiresAt = time.Now().UTC().Add(2 * time.Minute)
	early := pendingOrder("early", "u1", "s1", 10, model.DirectionUp)
	early.ExpiresAt = time.Now().UTC().Add(time.Minute)

	ms.CreateOrder(ctx, late)
	ms.CreateOrder(ctx, early)

	pending, err := ms.FindPendingOrders(ctx)
	if err != nil {
		t.Fatalf("find pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending orders, got %d", len(pending))
	}
	if pending[0].ID != "early" || pending[1].ID != "late" {
		t.Errorf("expected expiry order [early late], got [%s %s]", pending[0].ID, pending[1].ID)
	}
}
