// Package postgres implements ledger.Store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockbot/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

type Store struct {
	db *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// WithTx runs fn in a serializable transaction. Serialization failures and
// deadlocks come back as ledger.ErrConflict.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

func (s *Store) Close() {
	s.db.Close()
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ledger.ErrConflict, pgErr.Message)
		case "23514":
			return fmt.Errorf("%w: %s", ledger.ErrConstraint, pgErr.ConstraintName)
		}
	}
	return err
}

type pgTx struct {
	tx pgx.Tx
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

func (t *pgTx) EnsureAccount(ctx context.Context, accountID string) (bool, error) {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO accounts (account_id, coins)
		VALUES ($1, 0)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *pgTx) Account(ctx context.Context, accountID string) (ledger.Account, error) {
	var coins string
	err := t.tx.QueryRow(ctx, `
		SELECT coins::text
		FROM accounts
		WHERE account_id = $1
		FOR UPDATE
	`, accountID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, ledger.ErrNotFound
		}
		return ledger.Account{}, err
	}
	d, err := parseDecimal(coins)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{ID: accountID, Coins: d}, nil
}

func (t *pgTx) AdjustCoins(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var coins string
	err := t.tx.QueryRow(ctx, `
		UPDATE accounts
		SET coins = coins + $1::numeric, updated_at = now()
		WHERE account_id = $2
		RETURNING coins::text
	`, delta.String(), accountID).Scan(&coins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ledger.ErrNotFound
		}
		return decimal.Zero, mapErr(err)
	}
	return parseDecimal(coins)
}

func (t *pgTx) Stock(ctx context.Context, symbol string) (ledger.Stock, error) {
	var price string
	err := t.tx.QueryRow(ctx, `
		SELECT price::text
		FROM stocks
		WHERE symbol = $1
		FOR UPDATE
	`, symbol).Scan(&price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Stock{}, ledger.ErrNotFound
		}
		return ledger.Stock{}, err
	}
	d, err := parseDecimal(price)
	if err != nil {
		return ledger.Stock{}, err
	}
	return ledger.Stock{Symbol: symbol, Price: d}, nil
}

func (t *pgTx) Stocks(ctx context.Context) ([]ledger.Stock, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT symbol, price::text
		FROM stocks
		ORDER BY symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Stock
	for rows.Next() {
		var st ledger.Stock
		var price string
		if err := rows.Scan(&st.Symbol, &price); err != nil {
			return nil, err
		}
		if st.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertStock(ctx context.Context, st ledger.Stock) (bool, error) {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO stocks (symbol, price)
		VALUES ($1, $2::numeric)
		ON CONFLICT (symbol) DO NOTHING
	`, st.Symbol, st.Price.StringFixed(3))
	if err != nil {
		return false, mapErr(err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (t *pgTx) SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	cmd, err := t.tx.Exec(ctx, `
		UPDATE stocks
		SET price = $1::numeric, updated_at = now()
		WHERE symbol = $2
	`, price.StringFixed(3), symbol)
	if err != nil {
		return mapErr(err)
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *pgTx) Holding(ctx context.Context, accountID, symbol string) (ledger.Holding, error) {
	h := ledger.Holding{AccountID: accountID, Symbol: symbol}
	err := t.tx.QueryRow(ctx, `
		SELECT quantity
		FROM holdings
		WHERE account_id = $1 AND symbol = $2
		FOR UPDATE
	`, accountID, symbol).Scan(&h.Quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Holding{}, ledger.ErrNotFound
		}
		return ledger.Holding{}, err
	}
	return h, nil
}

func (t *pgTx) Holdings(ctx context.Context, accountID string) ([]ledger.Holding, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT symbol, quantity
		FROM holdings
		WHERE account_id = $1
		ORDER BY symbol
		FOR UPDATE
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Holding
	for rows.Next() {
		h := ledger.Holding{AccountID: accountID}
		if err := rows.Scan(&h.Symbol, &h.Quantity); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (t *pgTx) AdjustHolding(ctx context.Context, accountID, symbol string, delta int64) (int64, error) {
	var qty int64
	err := t.tx.QueryRow(ctx, `
		SELECT quantity
		FROM holdings
		WHERE account_id = $1 AND symbol = $2
		FOR UPDATE
	`, accountID, symbol).Scan(&qty)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	missing := errors.Is(err, pgx.ErrNoRows)

	next := qty + delta
	switch {
	case next < 0:
		return 0, ledger.ErrConstraint
	case next == 0:
		if !missing {
			if err := t.DeleteHolding(ctx, accountID, symbol); err != nil {
				return 0, err
			}
		}
		return 0, nil
	case missing:
		_, err = t.tx.Exec(ctx, `
			INSERT INTO holdings (account_id, symbol, quantity)
			VALUES ($1, $2, $3)
		`, accountID, symbol, next)
	default:
		_, err = t.tx.Exec(ctx, `
			UPDATE holdings
			SET quantity = quantity + $1, updated_at = now()
			WHERE account_id = $2 AND symbol = $3
		`, delta, accountID, symbol)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, ledger.ErrNotFound
		}
		return 0, mapErr(err)
	}
	return next, nil
}

func (t *pgTx) DeleteHolding(ctx context.Context, accountID, symbol string) error {
	_, err := t.tx.Exec(ctx, `
		DELETE FROM holdings
		WHERE account_id = $1 AND symbol = $2
	`, accountID, symbol)
	return err
}

func (t *pgTx) Positions(ctx context.Context, accountID string) ([]ledger.Position, error) {
	return t.positions(ctx, `
		SELECT h.account_id, h.symbol, h.quantity, s.price::text
		FROM holdings h
		JOIN stocks s ON s.symbol = h.symbol
		WHERE h.account_id = $1
		ORDER BY h.symbol
	`, accountID)
}

func (t *pgTx) AllPositions(ctx context.Context) ([]ledger.Position, error) {
	return t.positions(ctx, `
		SELECT h.account_id, h.symbol, h.quantity, s.price::text
		FROM holdings h
		JOIN stocks s ON s.symbol = h.symbol
		ORDER BY h.account_id, h.symbol
	`)
}

func (t *pgTx) positions(ctx context.Context, query string, args ...any) ([]ledger.Position, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.Position
	for rows.Next() {
		var p ledger.Position
		var price string
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &price); err != nil {
			return nil, err
		}
		if p.Price, err = parseDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) ClaimIdempotency(ctx context.Context, accountID, key, action string) error {
	cmd, err := t.tx.Exec(ctx, `
		INSERT INTO idempotency_keys (account_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (account_id, key) DO NOTHING
	`, accountID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ledger.ErrDuplicate
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, kind string, payload []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (kind, payload)
		VALUES ($1, $2::jsonb)
	`, kind, string(payload))
	return err
}

func (t *pgTx) PendingEvents(ctx context.Context, limit int) ([]ledger.OutboxEvent, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, kind, payload::text, created_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.OutboxEvent
	for rows.Next() {
		var ev ledger.OutboxEvent
		var payload string
		var createdAt time.Time
		if err := rows.Scan(&ev.ID, &ev.Kind, &payload, &createdAt); err != nil {
			return nil, err
		}
		ev.Payload = []byte(payload)
		ev.CreatedAt = createdAt
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *pgTx) MarkDelivered(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
