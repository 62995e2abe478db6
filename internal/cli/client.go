package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"stockbot/internal/game"
)

// APIError is a non-2xx response from the ops API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsAPIError reports whether err came back from the server, as opposed to a
// transport failure worth queueing for later.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

type Account struct {
	AccountID string          `json:"account_id"`
	Coins     decimal.Decimal `json:"coins"`
}

type Client struct {
	BaseURL    string
	AdminToken string
	HTTP       *http.Client
}

func NewClient(baseURL, adminToken string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AdminToken: adminToken,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) ListStocks(ctx context.Context) ([]game.StockView, error) {
	var out struct {
		Stocks []game.StockView `json:"stocks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks", nil, &out, "")
	return out.Stocks, err
}

func (c *Client) Stock(ctx context.Context, symbol string) (game.StockView, error) {
	var out game.StockView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/stocks/"+url.PathEscape(symbol), nil, &out, "")
	return out, err
}

func (c *Client) Account(ctx context.Context, id string) (Account, error) {
	var out Account
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(id), nil, &out, "")
	return out, err
}

func (c *Client) Portfolio(ctx context.Context, id string) (game.Portfolio, error) {
	var out game.Portfolio
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(id)+"/portfolio", nil, &out, "")
	return out, err
}

func (c *Client) MarketValue(ctx context.Context) (decimal.Decimal, error) {
	var out struct {
		Total decimal.Decimal `json:"total"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/value", nil, &out, "")
	return out.Total, err
}

func CreateStockPath() string {
	return "/v1/admin/stocks"
}

func AddCoinsPath(accountID string) string {
	return "/v1/admin/accounts/" + url.PathEscape(accountID) + "/coins"
}

func (c *Client) CreateStock(ctx context.Context, symbol string, price decimal.Decimal, idem string) (game.StockView, error) {
	var out game.StockView
	err := c.jsonRequest(ctx, http.MethodPost, CreateStockPath(), map[string]any{
		"symbol":        symbol,
		"initial_price": price,
	}, &out, idem)
	return out, err
}

func (c *Client) AddCoins(ctx context.Context, accountID string, amount decimal.Decimal, idem string) (game.AddCoinsResult, error) {
	var out game.AddCoinsResult
	err := c.jsonRequest(ctx, http.MethodPost, AddCoinsPath(accountID), map[string]any{
		"amount": amount,
	}, &out, idem)
	return out, err
}

// Do sends a raw request; queued commands are replayed through it.
func (c *Client) Do(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
