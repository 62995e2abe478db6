package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	cl "stockbot/internal/cli"
	"stockbot/internal/config"
	"stockbot/internal/game"
	"stockbot/internal/syncq"
)

type globals struct {
	apiBase string
	token   string
	queue   *syncq.Queue
}

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	g := &globals{apiBase: cfg.APIBaseURL, token: cfg.AdminToken, queue: syncq.New(cfg.QueuePath)}

	root := &cobra.Command{
		Use:          "stockctl",
		Short:        "Operate the stockbot market from the terminal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.apiBase, "api", g.apiBase, "ops API base URL")
	root.PersistentFlags().StringVar(&g.token, "token", g.token, "admin API token (defaults to ADMIN_API_TOKEN)")

	root.AddCommand(
		newStocksCmd(g),
		newPriceCmd(g),
		newBalanceCmd(g),
		newPortfolioCmd(g),
		newCreateCmd(g),
		newAddCoinsCmd(g),
		newSyncCmd(g),
		newWatchCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globals) client() *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(g.apiBase), "/"), g.token)
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 30*time.Second)
}

func newStocksCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "stocks",
		Short:   "List every stock and its price",
		Aliases: []string{"checkstocks"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			stocks, err := g.client().ListStocks(ctx)
			if err != nil {
				return err
			}
			renderStocks(stocks)
			return nil
		},
	}
}

func newPriceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "price SYMBOL",
		Short: "Show the current price of a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolArg(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext(cmd)
			defer cancel()
			st, err := g.client().Stock(ctx, symbol)
			if err != nil {
				return err
			}
			printInfo(fmt.Sprintf("The current price of %s is %s coins.", accent.Sprint(st.Symbol), st.Price.StringFixed(3)))
			return nil
		},
	}
}

func newBalanceCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "balance ACCOUNT_ID",
		Short: "Show an account's coin balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			acct, err := g.client().Account(ctx, args[0])
			if err != nil {
				return err
			}
			printInfo(fmt.Sprintf("%s has %s coins.", accent.Sprint(acct.AccountID), acct.Coins.StringFixed(3)))
			return nil
		},
	}
}

func newPortfolioCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio ACCOUNT_ID",
		Short: "Show an account's holdings at current prices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext(cmd)
			defer cancel()
			p, err := g.client().Portfolio(ctx, args[0])
			if err != nil {
				return err
			}
			renderPortfolio(p)
			return nil
		},
	}
}

func newCreateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "create SYMBOL INITIAL_PRICE",
		Short: "List a new stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolArg(args[0])
			if err != nil {
				return err
			}
			price, err := amountArg(args[1])
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := requestContext(cmd)
			defer cancel()
			st, err := g.client().CreateStock(ctx, symbol, price, idem)
			if err != nil {
				return g.queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           cl.CreateStockPath(),
					Body:           map[string]any{"symbol": symbol, "initial_price": price.String()},
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("Stock %q created with initial price %s coins.", st.Symbol, st.Price.StringFixed(3)))
			return nil
		},
	}
}

func newAddCoinsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "addcoins ACCOUNT_ID AMOUNT",
		Short: "Credit coins to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := amountArg(args[1])
			if err != nil {
				return err
			}
			idem := uuid.NewString()
			ctx, cancel := requestContext(cmd)
			defer cancel()
			res, err := g.client().AddCoins(ctx, args[0], amount, idem)
			if err != nil {
				return g.queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           cl.AddCoinsPath(args[0]),
					Body:           map[string]any{"amount": amount.String()},
					IdempotencyKey: idem,
				})
			}
			printSuccess(fmt.Sprintf("%s coins added to %s. Balance: %s coins.", res.Amount.StringFixed(3), args[0], res.Balance.StringFixed(3)))
			return nil
		},
	}
}

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay admin commands queued while the API was unreachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := g.queue.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := g.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining := make([]syncq.Command, 0, len(queue))
			success := 0
			for _, q := range queue {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				switch {
				case err == nil:
					success++
				case cl.IsAPIError(err):
					// The server saw it; retrying cannot change the answer.
					printError(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
				default:
					remaining = append(remaining, q)
					printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				}
			}
			if err := g.queue.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", success, len(remaining)))
			return nil
		},
	}
}

func (g *globals) queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil || cl.IsAPIError(err) {
		return err
	}
	if qErr := g.queue.Push(q); qErr != nil {
		return fmt.Errorf("request failed: %w (queueing also failed: %v)", err, qErr)
	}
	printWarn(fmt.Sprintf("API unreachable (%v). Queued %s %s; run `stockctl sync` to replay.", err, q.Method, q.Path))
	return nil
}

func symbolArg(raw string) (string, error) {
	symbol := game.NormalizeSymbol(raw)
	if err := game.ValidateSymbol(symbol); err != nil {
		return "", err
	}
	return symbol, nil
}

func amountArg(raw string) (decimal.Decimal, error) {
	return game.ParseAmount(raw)
}
