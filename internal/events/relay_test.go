package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/ledger"
	"stockbot/internal/market"
)

func TestRelayDeliversInOrderAndMarks(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := Append(ctx, tx, TradeExecuted{AccountID: "u1", Side: market.SideBuy, Symbol: "ABC", Quantity: 5, Amount: decimal.NewFromInt(50)}); err != nil {
			return err
		}
		return Append(ctx, tx, PriceChanged{Symbol: "ABC", Side: market.SideBuy, OldPrice: decimal.NewFromInt(10), NewPrice: decimal.RequireFromString("10.5"), ChangePct: decimal.NewFromInt(5)})
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	var kinds []Kind
	failing := HandlerFunc(func(context.Context, Event) error { return errors.New("sink down") })
	recording := HandlerFunc(func(_ context.Context, ev Event) error {
		kinds = append(kinds, ev.Kind())
		return nil
	})
	var observed int
	relay := NewRelay(store, nil, []Handler{failing, recording}, WithObserver(func(Kind, error) { observed++ }))

	n, err := relay.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n != 2 {
		t.Fatalf("delivered %d want 2", n)
	}
	if len(kinds) != 2 || kinds[0] != KindTradeExecuted || kinds[1] != KindPriceChanged {
		t.Fatalf("unexpected delivery order %v", kinds)
	}
	if observed != 4 {
		t.Fatalf("observed %d handler calls want 4", observed)
	}

	n, err = relay.Flush(ctx)
	if err != nil || n != 0 {
		t.Fatalf("second flush n=%d err=%v", n, err)
	}
}

func TestDecodeRoundTripsDrift(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	want := DriftApplied{Updates: []DriftUpdate{{Symbol: "ABC", OldPrice: decimal.NewFromInt(10), NewPrice: decimal.RequireFromString("10.2")}}}
	var rows []ledger.OutboxEvent
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		if err := Append(ctx, tx, want); err != nil {
			return err
		}
		var err error
		rows, err = tx.PendingEvents(ctx, 10)
		return err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	ev, err := Decode(rows[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := ev.(DriftApplied)
	if !ok || len(got.Updates) != 1 || !got.Updates[0].NewPrice.Equal(want.Updates[0].NewPrice) {
		t.Fatalf("unexpected decoded event %#v", ev)
	}
	if got.Updates[0].Description() != "Stock price updated for ABC.\nNew price: 10.200" {
		t.Fatalf("description = %q", got.Updates[0].Description())
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	if _, err := Decode(ledger.OutboxEvent{Kind: "nope", Payload: []byte(`{}`)}); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestRelayHandlersRunOutsideStoreTransaction(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		return Append(ctx, tx, TradeExecuted{AccountID: "u1", Side: market.SideBuy, Symbol: "ABC", Quantity: 1, Amount: decimal.NewFromInt(10)})
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	slow := HandlerFunc(func(context.Context, Event) error {
		close(entered)
		<-release
		return nil
	})
	relay := NewRelay(store, nil, []Handler{slow})
	flushed := make(chan error, 1)
	go func() {
		_, err := relay.Flush(ctx)
		flushed <- err
	}()
	<-entered

	txCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	err = store.WithTx(txCtx, func(tx ledger.Tx) error {
		_, err := tx.EnsureAccount(txCtx, "u2")
		return err
	})
	if err != nil {
		t.Fatalf("store blocked while a handler was running: %v", err)
	}

	close(release)
	if err := <-flushed; err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := store.PendingCount(); got != 0 {
		t.Fatalf("pending after flush = %d", got)
	}
}

func TestRelayMarksBatchAfterCancelledDispatch(t *testing.T) {
	store := ledger.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithTx(ctx, func(tx ledger.Tx) error {
		return Append(ctx, tx, TradeExecuted{AccountID: "u1", Side: market.SideSell, Symbol: "ABC", Quantity: 1, Amount: decimal.NewFromInt(10)})
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	cancelling := HandlerFunc(func(context.Context, Event) error {
		cancel()
		return nil
	})
	n, err := NewRelay(store, nil, []Handler{cancelling}).Flush(ctx)
	if err != nil || n != 1 {
		t.Fatalf("flush n=%d err=%v", n, err)
	}
	if got := store.PendingCount(); got != 0 {
		t.Fatalf("handled event left pending: %d", got)
	}
}
