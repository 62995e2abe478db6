// Package audit writes one line per executed trade to durable sinks.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"stockbot/internal/events"
	"stockbot/internal/market"
)

type Record struct {
	AccountID string
	Side      market.Side
	Symbol    string
	Quantity  int64
	Amount    decimal.Decimal
}

// Line renders the record as accountId,kind,symbol,quantity,amount.
func (r Record) Line() string {
	return fmt.Sprintf("%s,%s,%s,%d,%s", r.AccountID, r.Side, r.Symbol, r.Quantity, r.Amount.StringFixed(market.PricePlaces))
}

func FromTrade(ev events.TradeExecuted) Record {
	return Record{
		AccountID: ev.AccountID,
		Side:      ev.Side,
		Symbol:    ev.Symbol,
		Quantity:  ev.Quantity,
		Amount:    ev.Amount,
	}
}

type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handler returns an events handler that records TradeExecuted events and
// ignores everything else.
func Handler(sink Sink) events.Handler {
	return events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		trade, ok := ev.(events.TradeExecuted)
		if !ok {
			return nil
		}
		if err := sink.Record(ctx, FromTrade(trade)); err != nil {
			return fmt.Errorf("audit %s %s: %w", trade.Side, trade.Symbol, err)
		}
		return nil
	})
}
