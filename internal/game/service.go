package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/events"
	"stockbot/internal/ledger"
	"stockbot/internal/market"
	"stockbot/internal/metrics"
)

type Service struct {
	store ledger.Store
	log   *slog.Logger

	mu   sync.Mutex
	rand market.Source

	admins      map[string]bool
	maxAttempts int
	retryDelay  time.Duration
}

type Option func(*Service)

// WithAdmins restricts create and addcoins to the given account IDs. With no
// admins configured those commands are open to everyone.
func WithAdmins(ids []string) Option {
	return func(s *Service) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				s.admins[id] = true
			}
		}
	}
}

func WithSource(src market.Source) Option {
	return func(s *Service) {
		s.rand = src
	}
}

func WithRetry(attempts int, delay time.Duration) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.maxAttempts = attempts
		}
		s.retryDelay = delay
	}
}

func NewService(store ledger.Store, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:       store,
		log:         logger,
		rand:        mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		admins:      map[string]bool{},
		maxAttempts: 8,
		retryDelay:  75 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AdminsConfigured() bool {
	return len(s.admins) > 0
}

func (s *Service) authorize(actorID string) error {
	if actorID == AdminActor || len(s.admins) == 0 || s.admins[actorID] {
		return nil
	}
	return ErrUnauthorized
}

// Setup provisions a zero-balance account and reports whether it was new.
func (s *Service) Setup(ctx context.Context, accountID string) (bool, error) {
	var created bool
	err := s.inTx(ctx, "setup", func(tx ledger.Tx) error {
		var err error
		created, err = tx.EnsureAccount(ctx, accountID)
		return err
	})
	return created, err
}

// Balance reports the account's coins, provisioning the account on first use.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var coins decimal.Decimal
	err := s.inTx(ctx, "balance", func(tx ledger.Tx) error {
		if _, err := tx.EnsureAccount(ctx, accountID); err != nil {
			return err
		}
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		coins = acct.Coins
		return nil
	})
	return coins, err
}

// AccountBalance reads an existing account without provisioning it.
func (s *Service) AccountBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var coins decimal.Decimal
	err := s.inTx(ctx, "account", func(tx ledger.Tx) error {
		acct, err := tx.Account(ctx, accountID)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		coins = acct.Coins
		return nil
	})
	return coins, err
}

// CheckStocks lists every stock with the quantity accountID owns.
func (s *Service) CheckStocks(ctx context.Context, accountID string) ([]StockView, error) {
	var out []StockView
	err := s.inTx(ctx, "checkstocks", func(tx ledger.Tx) error {
		out = nil
		stocks, err := tx.Stocks(ctx)
		if err != nil {
			return err
		}
		owned := map[string]int64{}
		if accountID != "" {
			positions, err := tx.Positions(ctx, accountID)
			if err != nil {
				return err
			}
			for _, p := range positions {
				owned[p.Symbol] += p.Quantity
			}
		}
		for _, st := range stocks {
			out = append(out, StockView{Symbol: st.Symbol, Price: st.Price, Owned: owned[st.Symbol]})
		}
		return nil
	})
	return out, err
}

func (s *Service) Portfolio(ctx context.Context, accountID string) (Portfolio, error) {
	out := Portfolio{AccountID: accountID}
	err := s.inTx(ctx, "portfolio", func(tx ledger.Tx) error {
		out.Lines = nil
		out.Total = decimal.Zero
		positions, err := tx.Positions(ctx, accountID)
		if err != nil {
			return err
		}
		for _, p := range positions {
			line := PortfolioLine{
				Symbol:   p.Symbol,
				Quantity: p.Quantity,
				Price:    p.Price,
				Value:    market.Notional(p.Price, p.Quantity),
			}
			out.Total = out.Total.Add(line.Value)
			out.Lines = append(out.Lines, line)
		}
		return nil
	})
	return out, err
}

func (s *Service) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = NormalizeSymbol(symbol)
	if ValidateSymbol(symbol) != nil {
		return decimal.Zero, ErrUnknownStock
	}
	var price decimal.Decimal
	err := s.inTx(ctx, "price", func(tx ledger.Tx) error {
		st, err := tx.Stock(ctx, symbol)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrUnknownStock
		}
		if err != nil {
			return err
		}
		price = st.Price
		return nil
	})
	return price, err
}

// TotalHoldingsValue sums quantity × current price over every holding.
func (s *Service) TotalHoldingsValue(ctx context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.inTx(ctx, "market_value", func(tx ledger.Tx) error {
		total = decimal.Zero
		positions, err := tx.AllPositions(ctx)
		if err != nil {
			return err
		}
		for _, p := range positions {
			total = total.Add(p.Price.Mul(decimal.NewFromInt(p.Quantity)))
		}
		return nil
	})
	return market.Round(total), err
}

func (s *Service) Buy(ctx context.Context, in TradeInput) (TradeResult, error) {
	defer observe("buy", time.Now())
	symbol := NormalizeSymbol(in.Symbol)
	out := TradeResult{Side: market.SideBuy, Symbol: symbol, Quantity: in.Quantity}
	if err := validateQuantity(in.Quantity); err != nil {
		return out, s.reject("buy", err)
	}
	if ValidateSymbol(symbol) != nil {
		return out, s.reject("buy", ErrUnknownStock)
	}

	err := s.inTx(ctx, "buy", func(tx ledger.Tx) error {
		if err := claimIdempotency(ctx, tx, in.AccountID, in.IdempotencyKey, "buy"); err != nil {
			return err
		}
		st, err := tx.Stock(ctx, symbol)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrUnknownStock
		}
		if err != nil {
			return err
		}
		if _, err := tx.EnsureAccount(ctx, in.AccountID); err != nil {
			return err
		}
		acct, err := tx.Account(ctx, in.AccountID)
		if err != nil {
			return err
		}

		cost := market.Notional(st.Price, in.Quantity)
		if acct.Coins.LessThan(cost) {
			return fmt.Errorf("%w: need %s coins, have %s", ErrInsufficientFunds, cost.StringFixed(3), acct.Coins.StringFixed(3))
		}
		balance, err := tx.AdjustCoins(ctx, in.AccountID, cost.Neg())
		if err != nil {
			return err
		}
		if _, err := tx.AdjustHolding(ctx, in.AccountID, symbol, in.Quantity); err != nil {
			return err
		}

		out.Amount = cost
		out.Balance = balance
		return s.repriceAfterTrade(ctx, tx, in.AccountID, st, in.Quantity, market.SideBuy, &out)
	})
	if err != nil {
		return out, s.reject("buy", err)
	}
	s.recordTrade(out)
	return out, nil
}

func (s *Service) Sell(ctx context.Context, in TradeInput) (TradeResult, error) {
	defer observe("sell", time.Now())
	symbol := NormalizeSymbol(in.Symbol)
	out := TradeResult{Side: market.SideSell, Symbol: symbol, Quantity: in.Quantity}
	if err := validateQuantity(in.Quantity); err != nil {
		return out, s.reject("sell", err)
	}
	if ValidateSymbol(symbol) != nil {
		return out, s.reject("sell", ErrInsufficientHoldings)
	}

	err := s.inTx(ctx, "sell", func(tx ledger.Tx) error {
		if err := claimIdempotency(ctx, tx, in.AccountID, in.IdempotencyKey, "sell"); err != nil {
			return err
		}
		st, err := tx.Stock(ctx, symbol)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrInsufficientHoldings
		}
		if err != nil {
			return err
		}
		h, err := tx.Holding(ctx, in.AccountID, symbol)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrInsufficientHoldings
		}
		if err != nil {
			return err
		}
		if h.Quantity < in.Quantity {
			return fmt.Errorf("%w: own %d, selling %d", ErrInsufficientHoldings, h.Quantity, in.Quantity)
		}

		earnings := market.Notional(st.Price, in.Quantity)
		balance, err := tx.AdjustCoins(ctx, in.AccountID, earnings)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if _, err := tx.AdjustHolding(ctx, in.AccountID, symbol, -in.Quantity); err != nil {
			return err
		}

		out.Amount = earnings
		out.Balance = balance
		return s.repriceAfterTrade(ctx, tx, in.AccountID, st, in.Quantity, market.SideSell, &out)
	})
	if err != nil {
		return out, s.reject("sell", err)
	}
	s.recordTrade(out)
	return out, nil
}

// SellAll liquidates every holding at current prices in one transaction and
// credits the total once.
func (s *Service) SellAll(ctx context.Context, in SellAllInput) (SellAllResult, error) {
	defer observe("sellall", time.Now())
	var out SellAllResult
	err := s.inTx(ctx, "sellall", func(tx ledger.Tx) error {
		out = SellAllResult{Total: decimal.Zero}
		if err := claimIdempotency(ctx, tx, in.AccountID, in.IdempotencyKey, "sellall"); err != nil {
			return err
		}
		holdings, err := tx.Holdings(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if len(holdings) == 0 {
			return ErrEmptyPortfolio
		}

		for _, h := range holdings {
			st, err := tx.Stock(ctx, h.Symbol)
			if errors.Is(err, ledger.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrUnknownStock, h.Symbol)
			}
			if err != nil {
				return err
			}
			trade := TradeResult{
				Side:     market.SideSell,
				Symbol:   h.Symbol,
				Quantity: h.Quantity,
				Amount:   market.Notional(st.Price, h.Quantity),
			}
			if err := tx.DeleteHolding(ctx, in.AccountID, h.Symbol); err != nil {
				return err
			}
			if err := s.repriceAfterTrade(ctx, tx, in.AccountID, st, h.Quantity, market.SideSell, &trade); err != nil {
				return err
			}
			out.Total = out.Total.Add(trade.Amount)
			out.Trades = append(out.Trades, trade)
		}

		balance, err := tx.AdjustCoins(ctx, in.AccountID, out.Total)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		out.Balance = balance
		for i := range out.Trades {
			out.Trades[i].Balance = balance
		}
		return nil
	})
	if err != nil {
		return out, s.reject("sellall", err)
	}
	for _, trade := range out.Trades {
		s.recordTrade(trade)
	}
	return out, nil
}

// repriceAfterTrade applies trade impact, persists the new price and appends
// the audit and significant-change events.
func (s *Service) repriceAfterTrade(ctx context.Context, tx ledger.Tx, accountID string, st ledger.Stock, qty int64, side market.Side, out *TradeResult) error {
	next := market.ApplyTradeImpact(st.Price, qty, side)
	if err := tx.SetPrice(ctx, st.Symbol, next); err != nil {
		return err
	}
	out.OldPrice = st.Price
	out.NewPrice = next
	out.ChangePct = market.PercentChange(st.Price, next)
	out.Significant = market.ClassifyChange(st.Price, next)

	if err := events.Append(ctx, tx, events.TradeExecuted{
		AccountID: accountID,
		Side:      side,
		Symbol:    st.Symbol,
		Quantity:  qty,
		Amount:    out.Amount,
	}); err != nil {
		return err
	}
	if !out.Significant {
		return nil
	}
	return events.Append(ctx, tx, events.PriceChanged{
		Symbol:    st.Symbol,
		Side:      side,
		OldPrice:  st.Price,
		NewPrice:  next,
		ChangePct: out.ChangePct.Round(2),
	})
}

func (s *Service) CreateStock(ctx context.Context, in CreateStockInput) (StockView, error) {
	symbol := NormalizeSymbol(in.Symbol)
	out := StockView{Symbol: symbol}
	if err := s.authorize(in.ActorID); err != nil {
		return out, s.reject("create", err)
	}
	if err := ValidateSymbol(symbol); err != nil {
		return out, s.reject("create", err)
	}
	price, err := ParseAmount(in.InitialPrice)
	if err != nil {
		return out, s.reject("create", err)
	}
	if price.LessThan(market.MinPrice) {
		return out, s.reject("create", fmt.Errorf("%w: initial price must be at least %s", ErrInvalidAmount, market.MinPrice))
	}

	err = s.inTx(ctx, "create", func(tx ledger.Tx) error {
		if err := claimIdempotency(ctx, tx, in.ActorID, in.IdempotencyKey, "create"); err != nil {
			return err
		}
		inserted, err := tx.InsertStock(ctx, ledger.Stock{Symbol: symbol, Price: price})
		if err != nil {
			return err
		}
		if !inserted {
			return ErrStockAlreadyExists
		}
		return nil
	})
	if err != nil {
		return out, s.reject("create", err)
	}
	out.Price = price
	s.log.Info("stock created", "symbol", symbol, "price", price.StringFixed(3), "actor", in.ActorID)
	return out, nil
}

// Pay moves coins from sender to recipient in one transaction, creating the
// recipient's account when needed.
func (s *Service) Pay(ctx context.Context, in PayInput) (PayResult, error) {
	defer observe("pay", time.Now())
	var out PayResult
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return out, s.reject("pay", err)
	}
	out.Amount = amount

	err = s.inTx(ctx, "pay", func(tx ledger.Tx) error {
		if err := claimIdempotency(ctx, tx, in.SenderID, in.IdempotencyKey, "pay"); err != nil {
			return err
		}
		if _, err := tx.EnsureAccount(ctx, in.SenderID); err != nil {
			return err
		}
		created, err := tx.EnsureAccount(ctx, in.RecipientID)
		if err != nil {
			return err
		}
		out.RecipientCreated = created && in.RecipientID != in.SenderID

		ids := []string{in.SenderID, in.RecipientID}
		sort.Strings(ids)
		var sender ledger.Account
		for _, id := range ids {
			acct, err := tx.Account(ctx, id)
			if err != nil {
				return err
			}
			if id == in.SenderID {
				sender = acct
			}
		}
		if sender.Coins.LessThan(amount) {
			return fmt.Errorf("%w: have %s coins", ErrInsufficientFunds, sender.Coins.StringFixed(3))
		}
		balance, err := tx.AdjustCoins(ctx, in.SenderID, amount.Neg())
		if err != nil {
			return err
		}
		credited, err := tx.AdjustCoins(ctx, in.RecipientID, amount)
		if err != nil {
			return err
		}
		out.SenderBalance = balance
		if in.RecipientID == in.SenderID {
			out.SenderBalance = credited
		}
		return nil
	})
	if err != nil {
		return out, s.reject("pay", err)
	}
	s.log.Info("payment", "from", in.SenderID, "to", in.RecipientID, "amount", amount.StringFixed(3))
	return out, nil
}

// AddCoins credits target directly. It is an administrative operation.
func (s *Service) AddCoins(ctx context.Context, in AddCoinsInput) (AddCoinsResult, error) {
	var out AddCoinsResult
	if err := s.authorize(in.ActorID); err != nil {
		return out, s.reject("addcoins", err)
	}
	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return out, s.reject("addcoins", err)
	}
	out.Amount = amount

	err = s.inTx(ctx, "addcoins", func(tx ledger.Tx) error {
		if err := claimIdempotency(ctx, tx, in.ActorID, in.IdempotencyKey, "addcoins"); err != nil {
			return err
		}
		if _, err := tx.EnsureAccount(ctx, in.TargetID); err != nil {
			return err
		}
		balance, err := tx.AdjustCoins(ctx, in.TargetID, amount)
		if err != nil {
			return err
		}
		out.Balance = balance
		return nil
	})
	if err != nil {
		return out, s.reject("addcoins", err)
	}
	s.log.Info("coins added", "target", in.TargetID, "amount", amount.StringFixed(3), "actor", in.ActorID)
	return out, nil
}

// RunDriftTick nudges every stock by a random walk step. Each stock is
// updated in its own transaction; failures are logged and skipped. The
// successful updates are published as one DriftApplied event.
func (s *Service) RunDriftTick(ctx context.Context) ([]events.DriftUpdate, error) {
	var stocks []ledger.Stock
	err := s.inTx(ctx, "drift", func(tx ledger.Tx) error {
		var err error
		stocks, err = tx.Stocks(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var updates []events.DriftUpdate
	for _, listed := range stocks {
		u := s.nextDrift()
		var upd events.DriftUpdate
		err := s.inTx(ctx, "drift", func(tx ledger.Tx) error {
			st, err := tx.Stock(ctx, listed.Symbol)
			if err != nil {
				return err
			}
			next := market.ApplyDrift(st.Price, u)
			if err := tx.SetPrice(ctx, st.Symbol, next); err != nil {
				return err
			}
			upd = events.DriftUpdate{Symbol: st.Symbol, OldPrice: st.Price, NewPrice: next}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return updates, ctx.Err()
			}
			s.log.Error("drift update failed", "symbol", listed.Symbol, "err", err)
			continue
		}
		s.log.Debug("stock price drifted", "symbol", upd.Symbol, "old", upd.OldPrice.StringFixed(3), "new", upd.NewPrice.StringFixed(3))
		updates = append(updates, upd)
	}

	if len(updates) > 0 {
		err := s.inTx(ctx, "drift", func(tx ledger.Tx) error {
			return events.Append(ctx, tx, events.DriftApplied{Updates: updates})
		})
		if err != nil {
			return updates, err
		}
	}
	metrics.DriftTicks.Inc()
	return updates, nil
}

func (s *Service) nextDrift() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return market.DrawDrift(s.rand)
}

// inTx runs fn with retries on serialization conflicts. Storage faults are
// wrapped in ErrStoreUnavailable; domain errors pass through unchanged.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx ledger.Tx) error) error {
	retryDelay := s.retryDelay
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ledger.ErrConflict) {
			return s.classify(op, err)
		}
		metrics.TxConflicts.WithLabelValues(op).Inc()
		if attempt == s.maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func (s *Service) classify(op string, err error) error {
	switch {
	case isDomainError(err):
		return err
	case errors.Is(err, ledger.ErrDuplicate):
		return ErrDuplicateIdempotency
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	s.log.Error("store operation failed", "op", op, "err", err)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func (s *Service) reject(op string, err error) error {
	metrics.CommandErrors.WithLabelValues(op, reason(err)).Inc()
	return err
}

func (s *Service) recordTrade(t TradeResult) {
	metrics.TradesTotal.WithLabelValues(string(t.Side)).Inc()
	metrics.TradeVolume.WithLabelValues(string(t.Side)).Add(float64(t.Quantity))
	s.log.Info("trade executed",
		"side", t.Side,
		"symbol", t.Symbol,
		"quantity", t.Quantity,
		"amount", t.Amount.StringFixed(3),
		"new_price", t.NewPrice.StringFixed(3),
	)
}

func reason(err error) string {
	if r := errorReason(err); r != "" {
		return r
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return "store_unavailable"
	}
	return "other"
}

func observe(op string, started time.Time) {
	metrics.OpLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func claimIdempotency(ctx context.Context, tx ledger.Tx, accountID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	if err := tx.ClaimIdempotency(ctx, accountID, key, action); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return ErrDuplicateIdempotency
		}
		return err
	}
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
