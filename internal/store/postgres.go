package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/binarex/option-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, balance, created_at) VALUES ($1, $2::NUMERIC, $3)`,
		u.ID, u.Balance.String(), u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) FindUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, balance::TEXT, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &balance, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}

	u.Balance, _ = decimal.NewFromString(balance)
	return &u, nil
}

// --- Symbols ---

func (s *PostgresStore) CreateSymbol(ctx context.Context, sym *model.Symbol) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO symbols (id, ticker, last_raw, last_published, price_at, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6)`,
		sym.ID, sym.Ticker,
		sym.LastRaw.String(), sym.LastPublished.String(),
		sym.PriceAt, sym.CreatedAt,
	)
	return err
}

const symbolColumns = `id, ticker, last_raw::TEXT, last_published::TEXT, price_at, created_at`

func scanSymbol(row pgx.Row) (*model.Symbol, error) {
	var sym model.Symbol
	var raw, published string

	err := row.Scan(&sym.ID, &sym.Ticker, &raw, &published, &sym.PriceAt, &sym.CreatedAt)
	if err != nil {
		return nil, err
	}
	sym.LastRaw, _ = decimal.NewFromString(raw)
	sym.LastPublished, _ = decimal.NewFromString(published)
	return &sym, nil
}

func (s *PostgresStore) FindSymbol(ctx context.Context, ticker string) (*model.Symbol, error) {
	sym, err := scanSymbol(s.pool.QueryRow(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE ticker = $1`, ticker))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUnknownSymbol
	}
	if err != nil {
		return nil, fmt.Errorf("find symbol %s: %w", ticker, err)
	}
	return sym, nil
}

func (s *PostgresStore) FindSymbolByID(ctx context.Context, id string) (*model.Symbol, error) {
	sym, err := scanSymbol(s.pool.QueryRow(ctx,
		`SELECT `+symbolColumns+` FROM symbols WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUnknownSymbol
	}
	if err != nil {
		return nil, fmt.Errorf("find symbol by id %s: %w", id, err)
	}
	return sym, nil
}

func (s *PostgresStore) ListSymbols(ctx context.Context) ([]model.Symbol, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+symbolColumns+` FROM symbols ORDER BY ticker`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []model.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, *sym)
	}
	return symbols, rows.Err()
}

func (s *PostgresStore) UpdateSymbolPrices(ctx context.Context, id string, raw, published decimal.Decimal, observedAt time.Time) error {
	// The price_at predicate enforces monotonic refresh: a stale observation
	// matches zero rows and the write is a no-op.
	_, err := s.pool.Exec(ctx,
		`UPDATE symbols
		 SET last_raw = $2::NUMERIC, last_published = $3::NUMERIC, price_at = $4
		 WHERE id = $1 AND price_at < $4`,
		id, raw.String(), published.String(), observedAt,
	)
	return err
}

// --- Orders ---

const orderColumns = `id, user_id, symbol_id, amount::TEXT, direction,
	entry_price::TEXT, payout_ratio::TEXT, duration_sec,
	entry_up_amount::TEXT, entry_down_amount::TEXT,
	outcome, exit_price::TEXT, profit_loss::TEXT,
	created_at, expires_at, settled_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var amount, entryPrice, payoutRatio, entryUp, entryDown, exitPrice, profitLoss string

	err := row.Scan(&o.ID, &o.UserID, &o.SymbolID, &amount, &o.Direction,
		&entryPrice, &payoutRatio, &o.Duration,
		&entryUp, &entryDown,
		&o.Outcome, &exitPrice, &profitLoss,
		&o.CreatedAt, &o.ExpiresAt, &o.SettledAt)
	if err != nil {
		return nil, err
	}

	o.Amount, _ = decimal.NewFromString(amount)
	o.EntryPrice, _ = decimal.NewFromString(entryPrice)
	o.PayoutRatio, _ = decimal.NewFromString(payoutRatio)
	o.EntryUpAmount, _ = decimal.NewFromString(entryUp)
	o.EntryDownAmount, _ = decimal.NewFromString(entryDown)
	o.ExitPrice, _ = decimal.NewFromString(exitPrice)
	o.ProfitLoss, _ = decimal.NewFromString(profitLoss)
	return &o, nil
}

// CreateOrder runs the intake commit: lock the user row, pre-check the
// balance against the stake, debit, and insert the order — all or nothing.
func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin intake tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM users WHERE id = $1 FOR UPDATE`, o.UserID).
		Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("lock user %s: %w", o.UserID, err)
	}

	bal, _ := decimal.NewFromString(balance)
	if bal.LessThan(o.Amount) {
		return model.ErrInsufficientBalance
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET balance = balance - $2::NUMERIC WHERE id = $1`,
		o.UserID, o.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("debit user %s: %w", o.UserID, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, user_id, symbol_id, amount, direction,
		     entry_price, payout_ratio, duration_sec,
		     entry_up_amount, entry_down_amount,
		     outcome, exit_price, profit_loss, created_at, expires_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5,
		     $6::NUMERIC, $7::NUMERIC, $8,
		     $9::NUMERIC, $10::NUMERIC,
		     $11, 0, 0, $12, $13)`,
		o.ID, o.UserID, o.SymbolID, o.Amount.String(), o.Direction,
		o.EntryPrice.String(), o.PayoutRatio.String(), o.Duration,
		o.EntryUpAmount.String(), o.EntryDownAmount.String(),
		o.Outcome, o.CreatedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.ID, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) FindOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("find order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) FindOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *PostgresStore) FindPendingOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE outcome = 'pending' ORDER BY expires_at`)
}

func (s *PostgresStore) FindUnresolvedOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE outcome = 'unresolved' ORDER BY expires_at`)
}

func (s *PostgresStore) queryOrders(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) SumOpenExposure(ctx context.Context, symbolID string) (model.ExposureTotals, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT direction, COALESCE(SUM(amount), 0)::TEXT
		 FROM orders
		 WHERE symbol_id = $1 AND outcome = 'pending'
		 GROUP BY direction`, symbolID)
	if err != nil {
		return model.ExposureTotals{}, err
	}
	defer rows.Close()

	totals := model.ExposureTotals{Up: decimal.Zero, Down: decimal.Zero}
	for rows.Next() {
		var direction, sum string
		if err := rows.Scan(&direction, &sum); err != nil {
			return model.ExposureTotals{}, err
		}
		amount, _ := decimal.NewFromString(sum)
		switch model.Direction(direction) {
		case model.DirectionUp:
			totals.Up = amount
		case model.DirectionDown:
			totals.Down = amount
		}
	}
	return totals, rows.Err()
}

// SettleOrder writes the terminal outcome guarded by outcome = 'pending' and
// credits the winner inside the same transaction. A concurrent settle (or a
// duplicate timer after restart) matches zero rows and returns
// model.ErrAlreadySettled without touching the balance.
func (s *PostgresStore) SettleOrder(ctx context.Context, orderID string, exitPrice decimal.Decimal, outcome model.Outcome, profitLoss, credit decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID string
	err = tx.QueryRow(ctx,
		`UPDATE orders
		 SET outcome = $2, exit_price = $3::NUMERIC, profit_loss = $4::NUMERIC, settled_at = $5
		 WHERE id = $1 AND outcome = 'pending'
		 RETURNING user_id`,
		orderID, outcome, exitPrice.String(), profitLoss.String(), time.Now().UTC(),
	).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrAlreadySettled
	}
	if err != nil {
		return fmt.Errorf("settle order %s: %w", orderID, err)
	}

	if credit.IsPositive() {
		_, err = tx.Exec(ctx,
			`UPDATE users SET balance = balance + $2::NUMERIC WHERE id = $1`,
			userID, credit.String(),
		)
		if err != nil {
			return fmt.Errorf("credit user %s: %w", userID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) MarkUnresolved(ctx context.Context, orderID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET outcome = 'unresolved', settled_at = $2
		 WHERE id = $1 AND outcome = 'pending'`,
		orderID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark order %s unresolved: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAlreadySettled
	}
	return nil
}
