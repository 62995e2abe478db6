package game

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"stockbot/internal/ledger"
	"stockbot/internal/market"
)

var propertyAccounts = []string{"a1", "a2", "a3"}
var propertySymbols = []string{"AAA", "BBB"}

func checkLedgerInvariants(t *rapid.T, store ledger.Store) {
	err := store.WithTx(context.Background(), func(tx ledger.Tx) error {
		ctx := context.Background()
		for _, id := range propertyAccounts {
			acct, err := tx.Account(ctx, id)
			if errors.Is(err, ledger.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if acct.Coins.IsNegative() {
				return fmt.Errorf("account %s has negative coins %s", id, acct.Coins)
			}
		}
		stocks, err := tx.Stocks(ctx)
		if err != nil {
			return err
		}
		for _, st := range stocks {
			if st.Price.LessThan(market.MinPrice) {
				return fmt.Errorf("stock %s below floor: %s", st.Symbol, st.Price)
			}
		}
		positions, err := tx.AllPositions(ctx)
		if err != nil {
			return err
		}
		for _, p := range positions {
			if p.Quantity <= 0 {
				return fmt.Errorf("holding %s/%s has quantity %d", p.AccountID, p.Symbol, p.Quantity)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestProperty_RandomOperationsPreserveInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := ledger.NewMemoryStore()
		svc := NewService(store, nil, WithRetry(1, 0))
		for _, id := range propertyAccounts {
			if _, err := svc.AddCoins(ctx, AddCoinsInput{ActorID: AdminActor, TargetID: id, Amount: "500"}); err != nil {
				t.Fatalf("seed coins: %v", err)
			}
		}
		for _, sym := range propertySymbols {
			if _, err := svc.CreateStock(ctx, CreateStockInput{ActorID: AdminActor, Symbol: sym, InitialPrice: "5"}); err != nil {
				t.Fatalf("seed stock: %v", err)
			}
		}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			acct := rapid.SampledFrom(propertyAccounts).Draw(t, "account")
			sym := rapid.SampledFrom(propertySymbols).Draw(t, "symbol")
			qty := rapid.Int64Range(1, 120).Draw(t, "quantity")
			var err error
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				_, err = svc.Buy(ctx, TradeInput{AccountID: acct, Symbol: sym, Quantity: qty})
			case 1:
				_, err = svc.Sell(ctx, TradeInput{AccountID: acct, Symbol: sym, Quantity: qty})
			case 2:
				_, err = svc.SellAll(ctx, SellAllInput{AccountID: acct})
			case 3:
				to := rapid.SampledFrom(propertyAccounts).Draw(t, "recipient")
				_, err = svc.Pay(ctx, PayInput{SenderID: acct, RecipientID: to, Amount: fmt.Sprintf("%d", qty)})
			case 4:
				_, err = svc.RunDriftTick(ctx)
			}
			if err != nil && !isDomainError(err) {
				t.Fatalf("unexpected error: %v", err)
			}
			checkLedgerInvariants(t, store)
		}
	})
}

func TestProperty_BuySellRoundTripGain(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		price := rapid.Int64Range(1, 1000).Draw(t, "price")
		qty := rapid.Int64Range(1, 50).Draw(t, "quantity")

		svc := NewService(ledger.NewMemoryStore(), nil)
		if _, err := svc.AddCoins(ctx, AddCoinsInput{ActorID: AdminActor, TargetID: "a", Amount: "1000000"}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.CreateStock(ctx, CreateStockInput{ActorID: AdminActor, Symbol: "RT", InitialPrice: fmt.Sprint(price)}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Buy(ctx, TradeInput{AccountID: "a", Symbol: "RT", Quantity: qty}); err != nil {
			t.Fatal(err)
		}
		res, err := svc.Sell(ctx, TradeInput{AccountID: "a", Symbol: "RT", Quantity: qty})
		if err != nil {
			t.Fatal(err)
		}

		p := decimal.NewFromInt(price)
		q := decimal.NewFromInt(qty)
		want := decimal.NewFromInt(1000000).Add(p.Mul(q).Mul(q).Mul(decimal.RequireFromString("0.01")))
		if !res.Balance.Equal(want) {
			t.Fatalf("balance after round trip = %s, want %s", res.Balance, want)
		}
	})
}
