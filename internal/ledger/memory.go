package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var _ Store = (*MemoryStore)(nil)

type holdingKey struct {
	account string
	symbol  string
}

type memoryState struct {
	accounts    map[string]decimal.Decimal
	stocks      map[string]decimal.Decimal
	holdings    map[holdingKey]int64
	idempotency map[holdingKey]string
	outbox      []OutboxEvent
	nextEventID int64
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		accounts:    make(map[string]decimal.Decimal, len(s.accounts)),
		stocks:      make(map[string]decimal.Decimal, len(s.stocks)),
		holdings:    make(map[holdingKey]int64, len(s.holdings)),
		idempotency: make(map[holdingKey]string, len(s.idempotency)),
		outbox:      append([]OutboxEvent(nil), s.outbox...),
		nextEventID: s.nextEventID,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.stocks {
		out.stocks[k] = v
	}
	for k, v := range s.holdings {
		out.holdings[k] = v
	}
	for k, v := range s.idempotency {
		out.idempotency[k] = v
	}
	return out
}

// MemoryStore is a Store kept in process memory. Transactions run one at a
// time against a copy of the state that replaces it only on success.
// Delivered outbox events are dropped, so the copy stays proportional to the
// live state.
type MemoryStore struct {
	sem       chan struct{}
	state     *memoryState
	conflicts int
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sem: make(chan struct{}, 1),
		state: &memoryState{
			accounts:    map[string]decimal.Decimal{},
			stocks:      map[string]decimal.Decimal{},
			holdings:    map[holdingKey]int64{},
			idempotency: map[holdingKey]string{},
		},
		now: time.Now,
	}
}

// InjectConflicts makes the next n transactions fail with ErrConflict after
// running, as a serialization failure would.
func (m *MemoryStore) InjectConflicts(n int) {
	m.sem <- struct{}{}
	defer m.unlock()
	m.conflicts = n
}

// lock waits for the store, giving up when ctx is done.
func (m *MemoryStore) lock(ctx context.Context) error {
	select {
	case m.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryStore) unlock() {
	<-m.sem
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.lock(ctx); err != nil {
		return err
	}
	defer m.unlock()

	tx := &memoryTx{state: m.state.clone(), now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	if m.conflicts > 0 {
		m.conflicts--
		return ErrConflict
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) Close() {}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) EnsureAccount(_ context.Context, accountID string) (bool, error) {
	if _, ok := t.state.accounts[accountID]; ok {
		return false, nil
	}
	t.state.accounts[accountID] = decimal.Zero
	return true, nil
}

func (t *memoryTx) Account(_ context.Context, accountID string) (Account, error) {
	coins, ok := t.state.accounts[accountID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return Account{ID: accountID, Coins: coins}, nil
}

func (t *memoryTx) AdjustCoins(_ context.Context, accountID string, delta decimal.Decimal) (decimal.Decimal, error) {
	coins, ok := t.state.accounts[accountID]
	if !ok {
		return decimal.Zero, ErrNotFound
	}
	next := coins.Add(delta).Round(3)
	if next.IsNegative() {
		return decimal.Zero, ErrConstraint
	}
	t.state.accounts[accountID] = next
	return next, nil
}

func (t *memoryTx) Stock(_ context.Context, symbol string) (Stock, error) {
	price, ok := t.state.stocks[symbol]
	if !ok {
		return Stock{}, ErrNotFound
	}
	return Stock{Symbol: symbol, Price: price}, nil
}

func (t *memoryTx) Stocks(_ context.Context) ([]Stock, error) {
	out := make([]Stock, 0, len(t.state.stocks))
	for sym, price := range t.state.stocks {
		out = append(out, Stock{Symbol: sym, Price: price})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (t *memoryTx) InsertStock(_ context.Context, st Stock) (bool, error) {
	if _, ok := t.state.stocks[st.Symbol]; ok {
		return false, nil
	}
	if st.Price.LessThan(decimal.NewFromInt(1)) {
		return false, ErrConstraint
	}
	t.state.stocks[st.Symbol] = st.Price.Round(3)
	return true, nil
}

func (t *memoryTx) SetPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	if _, ok := t.state.stocks[symbol]; !ok {
		return ErrNotFound
	}
	if price.LessThan(decimal.NewFromInt(1)) {
		return ErrConstraint
	}
	t.state.stocks[symbol] = price.Round(3)
	return nil
}

func (t *memoryTx) Holding(_ context.Context, accountID, symbol string) (Holding, error) {
	qty, ok := t.state.holdings[holdingKey{accountID, symbol}]
	if !ok {
		return Holding{}, ErrNotFound
	}
	return Holding{AccountID: accountID, Symbol: symbol, Quantity: qty}, nil
}

func (t *memoryTx) Holdings(_ context.Context, accountID string) ([]Holding, error) {
	var out []Holding
	for k, qty := range t.state.holdings {
		if k.account == accountID {
			out = append(out, Holding{AccountID: k.account, Symbol: k.symbol, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (t *memoryTx) AdjustHolding(_ context.Context, accountID, symbol string, delta int64) (int64, error) {
	if _, ok := t.state.accounts[accountID]; !ok {
		return 0, ErrNotFound
	}
	if _, ok := t.state.stocks[symbol]; !ok {
		return 0, ErrNotFound
	}
	key := holdingKey{accountID, symbol}
	next := t.state.holdings[key] + delta
	switch {
	case next < 0:
		return 0, ErrConstraint
	case next == 0:
		delete(t.state.holdings, key)
	default:
		t.state.holdings[key] = next
	}
	return next, nil
}

func (t *memoryTx) DeleteHolding(_ context.Context, accountID, symbol string) error {
	delete(t.state.holdings, holdingKey{accountID, symbol})
	return nil
}

func (t *memoryTx) Positions(ctx context.Context, accountID string) ([]Position, error) {
	holdings, err := t.Holdings(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, Position{
			AccountID: h.AccountID,
			Symbol:    h.Symbol,
			Quantity:  h.Quantity,
			Price:     t.state.stocks[h.Symbol],
		})
	}
	return out, nil
}

func (t *memoryTx) AllPositions(_ context.Context) ([]Position, error) {
	out := make([]Position, 0, len(t.state.holdings))
	for k, qty := range t.state.holdings {
		price, ok := t.state.stocks[k.symbol]
		if !ok {
			continue
		}
		out = append(out, Position{AccountID: k.account, Symbol: k.symbol, Quantity: qty, Price: price})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID == out[j].AccountID {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (t *memoryTx) ClaimIdempotency(_ context.Context, accountID, key, action string) error {
	k := holdingKey{accountID, key}
	if _, ok := t.state.idempotency[k]; ok {
		return ErrDuplicate
	}
	t.state.idempotency[k] = action
	return nil
}

func (t *memoryTx) AppendEvent(_ context.Context, kind string, payload []byte) error {
	t.state.nextEventID++
	t.state.outbox = append(t.state.outbox, OutboxEvent{
		ID:        t.state.nextEventID,
		Kind:      kind,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: t.now(),
	})
	return nil
}

func (t *memoryTx) PendingEvents(_ context.Context, limit int) ([]OutboxEvent, error) {
	n := len(t.state.outbox)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]OutboxEvent(nil), t.state.outbox[:n]...), nil
}

func (t *memoryTx) MarkDelivered(_ context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	done := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		done[id] = struct{}{}
	}
	kept := t.state.outbox[:0:0]
	for _, ev := range t.state.outbox {
		if _, ok := done[ev.ID]; !ok {
			kept = append(kept, ev)
		}
	}
	t.state.outbox = kept
	return nil
}

// PendingCount reports how many outbox events await delivery.
func (m *MemoryStore) PendingCount() int {
	m.sem <- struct{}{}
	defer m.unlock()
	return len(m.state.outbox)
}
