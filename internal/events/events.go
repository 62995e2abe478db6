// Package events carries domain events from the trading engine to
// notification and audit consumers through the ledger outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"stockbot/internal/ledger"
	"stockbot/internal/market"
)

type Kind string

const (
	KindTradeExecuted Kind = "trade.executed"
	KindPriceChanged  Kind = "price.changed"
	KindDriftApplied  Kind = "drift.applied"
)

type Event interface {
	Kind() Kind
}

// TradeExecuted is one completed BUY or SELL; it is the audit record.
type TradeExecuted struct {
	AccountID string          `json:"account_id"`
	Side      market.Side     `json:"side"`
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
}

func (TradeExecuted) Kind() Kind { return KindTradeExecuted }

// PriceChanged is emitted when a trade moves a price by a significant amount.
type PriceChanged struct {
	Symbol    string          `json:"symbol"`
	Side      market.Side     `json:"side"`
	OldPrice  decimal.Decimal `json:"old_price"`
	NewPrice  decimal.Decimal `json:"new_price"`
	ChangePct decimal.Decimal `json:"change_pct"`
}

func (PriceChanged) Kind() Kind { return KindPriceChanged }

type DriftUpdate struct {
	Symbol   string          `json:"symbol"`
	OldPrice decimal.Decimal `json:"old_price"`
	NewPrice decimal.Decimal `json:"new_price"`
}

// Description is the human-readable line used in drift summaries.
func (u DriftUpdate) Description() string {
	return fmt.Sprintf("Stock price updated for %s.\nNew price: %s", u.Symbol, u.NewPrice.StringFixed(3))
}

// DriftApplied batches every price touched by one drift tick.
type DriftApplied struct {
	Updates []DriftUpdate `json:"updates"`
}

func (DriftApplied) Kind() Kind { return KindDriftApplied }

// Append writes ev to the outbox inside tx.
func Append(ctx context.Context, tx ledger.Tx, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return tx.AppendEvent(ctx, string(ev.Kind()), payload)
}

// Decode turns an outbox row back into its typed event.
func Decode(row ledger.OutboxEvent) (Event, error) {
	var ev Event
	switch Kind(row.Kind) {
	case KindTradeExecuted:
		var v TradeExecuted
		if err := json.Unmarshal(row.Payload, &v); err != nil {
			return nil, err
		}
		ev = v
	case KindPriceChanged:
		var v PriceChanged
		if err := json.Unmarshal(row.Payload, &v); err != nil {
			return nil, err
		}
		ev = v
	case KindDriftApplied:
		var v DriftApplied
		if err := json.Unmarshal(row.Payload, &v); err != nil {
			return nil, err
		}
		ev = v
	default:
		return nil, fmt.Errorf("unknown event kind %q", row.Kind)
	}
	return ev, nil
}
