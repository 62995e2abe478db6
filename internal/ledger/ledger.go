// Package ledger defines the transactional store behind balances, stock
// prices, holdings, idempotency keys and the event outbox.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("ledger: not found")
	ErrConflict  = errors.New("ledger: transaction conflict")
	ErrDuplicate = errors.New("ledger: duplicate key")
	// ErrConstraint is returned when a write would break a row invariant
	// (negative coins, non-positive holding, price below the floor).
	ErrConstraint = errors.New("ledger: constraint violation")
)

type Account struct {
	ID    string
	Coins decimal.Decimal
}

type Stock struct {
	Symbol string
	Price  decimal.Decimal
}

type Holding struct {
	AccountID string
	Symbol    string
	Quantity  int64
}

// Position is a holding joined with its stock's current price.
type Position struct {
	AccountID string
	Symbol    string
	Quantity  int64
	Price     decimal.Decimal
}

type OutboxEvent struct {
	ID        int64
	Kind      string
	Payload   []byte
	CreatedAt time.Time
}

// Store runs units of work atomically. Implementations map serialization
// failures to ErrConflict so callers can retry.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close()
}

// Tx is a unit of work. Lookup methods lock the rows they return until the
// transaction ends.
type Tx interface {
	// EnsureAccount creates a zero-balance account if none exists and
	// reports whether it did.
	EnsureAccount(ctx context.Context, accountID string) (bool, error)
	Account(ctx context.Context, accountID string) (Account, error)
	// AdjustCoins adds delta to the balance and returns the new balance.
	// A result below zero fails with ErrConstraint.
	AdjustCoins(ctx context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error)

	Stock(ctx context.Context, symbol string) (Stock, error)
	Stocks(ctx context.Context) ([]Stock, error)
	// InsertStock reports false when the symbol already exists; the
	// existing row is left untouched.
	InsertStock(ctx context.Context, st Stock) (bool, error)
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal) error

	Holding(ctx context.Context, accountID, symbol string) (Holding, error)
	Holdings(ctx context.Context, accountID string) ([]Holding, error)
	// AdjustHolding adds delta to the quantity, creating the row when
	// missing and deleting it when the result is zero. It returns the new
	// quantity. A negative result fails with ErrConstraint.
	AdjustHolding(ctx context.Context, accountID, symbol string, delta int64) (int64, error)
	DeleteHolding(ctx context.Context, accountID, symbol string) error
	Positions(ctx context.Context, accountID string) ([]Position, error)
	AllPositions(ctx context.Context) ([]Position, error)

	// ClaimIdempotency records key for the account and fails with
	// ErrDuplicate if it was already claimed.
	ClaimIdempotency(ctx context.Context, accountID, key, action string) error

	AppendEvent(ctx context.Context, kind string, payload []byte) error
	PendingEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkDelivered(ctx context.Context, ids []int64) error
}
