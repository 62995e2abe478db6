package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockbot/internal/api"
	"stockbot/internal/game"
	"stockbot/internal/ledger"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	svc := game.NewService(ledger.NewMemoryStore(), nil)
	srv := httptest.NewServer(api.New(api.Options{AdminToken: "secret", Gatherer: prometheus.NewRegistry()}, nil, svc).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	c := NewClient(srv.URL+"/", "secret")

	st, err := c.CreateStock(ctx, "abc", decimal.NewFromInt(10), "idem-1")
	require.NoError(t, err)
	require.Equal(t, "ABC", st.Symbol)

	res, err := c.AddCoins(ctx, "u1", decimal.RequireFromString("12.5"), "idem-2")
	require.NoError(t, err)
	require.Equal(t, "12.500", res.Balance.StringFixed(3))

	stocks, err := c.ListStocks(ctx)
	require.NoError(t, err)
	require.Len(t, stocks, 1)

	one, err := c.Stock(ctx, "ABC")
	require.NoError(t, err)
	require.True(t, one.Price.Equal(decimal.NewFromInt(10)))

	acct, err := c.Account(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", acct.AccountID)

	pf, err := c.Portfolio(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, pf.Lines)

	total, err := c.MarketValue(ctx)
	require.NoError(t, err)
	require.True(t, total.IsZero())
}

func TestClientAPIErrors(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)

	_, err := NewClient(srv.URL, "wrong").CreateStock(ctx, "ABC", decimal.NewFromInt(10), "")
	require.True(t, IsAPIError(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.Status)
	require.Equal(t, "invalid token", apiErr.Message)

	_, err = NewClient(srv.URL, "").Stock(ctx, "NOPE")
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientTransportErrorIsNotAPIError(t *testing.T) {
	srv := newTestAPI(t)
	url := srv.URL
	srv.Close()
	_, err := NewClient(url, "secret").ListStocks(context.Background())
	require.Error(t, err)
	require.False(t, IsAPIError(err))
}

func TestClientDoReplaysQueuedCommand(t *testing.T) {
	ctx := context.Background()
	srv := newTestAPI(t)
	c := NewClient(srv.URL, "secret")

	out, err := c.Do(ctx, http.MethodPost, AddCoinsPath("u7"), map[string]any{"amount": "3"}, "queued-1")
	require.NoError(t, err)
	require.Equal(t, "3", out["balance"])

	_, err = c.Do(ctx, http.MethodPost, AddCoinsPath("u7"), map[string]any{"amount": "3"}, "queued-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusConflict, apiErr.Status)
}
