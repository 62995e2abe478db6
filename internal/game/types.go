package game

import (
	"github.com/shopspring/decimal"

	"stockbot/internal/market"
)

type StockView struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Owned  int64           `json:"owned,omitempty"`
}

type PortfolioLine struct {
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Value    decimal.Decimal `json:"value"`
}

type Portfolio struct {
	AccountID string          `json:"account_id"`
	Lines     []PortfolioLine `json:"lines"`
	Total     decimal.Decimal `json:"total"`
}

type TradeInput struct {
	AccountID      string
	Symbol         string
	Quantity       int64
	IdempotencyKey string
}

type TradeResult struct {
	Side        market.Side     `json:"side"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
	OldPrice    decimal.Decimal `json:"old_price"`
	NewPrice    decimal.Decimal `json:"new_price"`
	ChangePct   decimal.Decimal `json:"change_pct"`
	Significant bool            `json:"significant"`
	Balance     decimal.Decimal `json:"balance"`
}

type SellAllInput struct {
	AccountID      string
	IdempotencyKey string
}

type SellAllResult struct {
	Trades  []TradeResult   `json:"trades"`
	Total   decimal.Decimal `json:"total"`
	Balance decimal.Decimal `json:"balance"`
}

type CreateStockInput struct {
	ActorID        string
	Symbol         string
	InitialPrice   string
	IdempotencyKey string
}

type PayInput struct {
	SenderID       string
	RecipientID    string
	Amount         string
	IdempotencyKey string
}

type PayResult struct {
	Amount           decimal.Decimal `json:"amount"`
	SenderBalance    decimal.Decimal `json:"sender_balance"`
	RecipientCreated bool            `json:"recipient_created"`
}

type AddCoinsInput struct {
	ActorID        string
	TargetID       string
	Amount         string
	IdempotencyKey string
}

type AddCoinsResult struct {
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}
