package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"

	"stockbot/internal/game"
)

// Engine is the part of game.Service the command surface drives.
type Engine interface {
	Setup(ctx context.Context, accountID string) (bool, error)
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)
	CheckStocks(ctx context.Context, accountID string) ([]game.StockView, error)
	Portfolio(ctx context.Context, accountID string) (game.Portfolio, error)
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
	Buy(ctx context.Context, in game.TradeInput) (game.TradeResult, error)
	Sell(ctx context.Context, in game.TradeInput) (game.TradeResult, error)
	SellAll(ctx context.Context, in game.SellAllInput) (game.SellAllResult, error)
	CreateStock(ctx context.Context, in game.CreateStockInput) (game.StockView, error)
	Pay(ctx context.Context, in game.PayInput) (game.PayResult, error)
	AddCoins(ctx context.Context, in game.AddCoinsInput) (game.AddCoinsResult, error)
}

// Command is a decoded slash command invocation.
type Command struct {
	Name          string
	UserID        string
	InteractionID string
	Options       map[string]*discordgo.ApplicationCommandInteractionDataOption
}

// CommandFromInteraction decodes application command interactions and
// ignores every other interaction type.
func CommandFromInteraction(i *discordgo.InteractionCreate) (Command, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionApplicationCommand {
		return Command{}, false
	}
	data := i.ApplicationCommandData()
	cmd := Command{
		Name:          data.Name,
		InteractionID: i.ID,
		Options:       make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options)),
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		cmd.UserID = i.Member.User.ID
	case i.User != nil:
		cmd.UserID = i.User.ID
	}
	for _, opt := range data.Options {
		cmd.Options[opt.Name] = opt
	}
	return cmd, true
}

func (c Command) stringOpt(name string) string {
	opt := c.Options[name]
	if opt == nil {
		return ""
	}
	switch opt.Type {
	case discordgo.ApplicationCommandOptionString:
		return strings.TrimSpace(opt.StringValue())
	case discordgo.ApplicationCommandOptionInteger:
		return strconv.FormatInt(opt.IntValue(), 10)
	case discordgo.ApplicationCommandOptionNumber:
		return strconv.FormatFloat(opt.FloatValue(), 'f', -1, 64)
	}
	return fmt.Sprint(opt.Value)
}

func (c Command) intOpt(name string) int64 {
	opt := c.Options[name]
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionInteger {
		return 0
	}
	return opt.IntValue()
}

func (c Command) userOpt(name string) string {
	opt := c.Options[name]
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionUser {
		return ""
	}
	return opt.UserValue(nil).ID
}

type Router struct {
	svc Engine
	log *slog.Logger
}

func NewRouter(svc Engine, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{svc: svc, log: logger}
}

func text(msg string) *discordgo.InteractionResponseData {
	return &discordgo.InteractionResponseData{Content: msg}
}

// Dispatch runs cmd and returns the reply. It never returns nil.
func (r *Router) Dispatch(ctx context.Context, cmd Command) *discordgo.InteractionResponseData {
	started := time.Now()
	resp, err := r.dispatch(ctx, cmd)
	if err != nil {
		r.log.Info("command rejected", "command", cmd.Name, "user", cmd.UserID, "err", err)
		return text(errorReply(err))
	}
	r.log.Debug("command handled", "command", cmd.Name, "user", cmd.UserID, "elapsed", time.Since(started).String())
	return resp
}

func (r *Router) dispatch(ctx context.Context, cmd Command) (*discordgo.InteractionResponseData, error) {
	key := cmd.InteractionID
	switch cmd.Name {
	case cmdSetup:
		created, err := r.svc.Setup(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if !created {
			return text("You already have an account."), nil
		}
		return text("Your account has been successfully set up."), nil

	case cmdBalance:
		coins, err := r.svc.Balance(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("You have %s coins.", coins.StringFixed(3))), nil

	case cmdCheckStocks:
		stocks, err := r.svc.CheckStocks(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if len(stocks) == 0 {
			return text("No stocks available."), nil
		}
		return &discordgo.InteractionResponseData{Embeds: stockEmbeds(stocks)}, nil

	case cmdPortfolio:
		p, err := r.svc.Portfolio(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if len(p.Lines) == 0 {
			return text("Your portfolio is empty."), nil
		}
		return &discordgo.InteractionResponseData{Embeds: portfolioEmbeds(p)}, nil

	case cmdPrice:
		symbol := game.NormalizeSymbol(cmd.stringOpt("stock"))
		price, err := r.svc.Price(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("The current price of %s is %s coins.", symbol, price.StringFixed(3))), nil

	case cmdBuy, cmdSell:
		in := game.TradeInput{
			AccountID:      cmd.UserID,
			Symbol:         cmd.stringOpt("stock"),
			Quantity:       cmd.intOpt("quantity"),
			IdempotencyKey: key,
		}
		trade, verb := r.svc.Buy, "bought"
		if cmd.Name == cmdSell {
			trade, verb = r.svc.Sell, "sold"
		}
		res, err := trade(ctx, in)
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("You %s %d %s stocks for %s coins. New price of %s is %s coins.",
			verb, res.Quantity, res.Symbol, res.Amount.StringFixed(3), res.Symbol, res.NewPrice.StringFixed(3))), nil

	case cmdSellAll:
		res, err := r.svc.SellAll(ctx, game.SellAllInput{AccountID: cmd.UserID, IdempotencyKey: key})
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("All stocks in your portfolio have been sold. You earned %s coins.", res.Total.StringFixed(3))), nil

	case cmdCreate:
		st, err := r.svc.CreateStock(ctx, game.CreateStockInput{
			ActorID:        cmd.UserID,
			Symbol:         cmd.stringOpt("stock_id"),
			InitialPrice:   cmd.stringOpt("initial_price"),
			IdempotencyKey: key,
		})
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("Stock %q created with initial price %s coins.", st.Symbol, st.Price.StringFixed(3))), nil

	case cmdPay:
		recipient := cmd.userOpt("user")
		if recipient == "" {
			return nil, game.ErrAccountNotFound
		}
		res, err := r.svc.Pay(ctx, game.PayInput{
			SenderID:       cmd.UserID,
			RecipientID:    recipient,
			Amount:         cmd.stringOpt("amount"),
			IdempotencyKey: key,
		})
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("You paid %s coins to <@%s>.", res.Amount.StringFixed(3), recipient)), nil

	case cmdAddCoins:
		target := cmd.userOpt("user")
		if target == "" {
			return nil, game.ErrAccountNotFound
		}
		res, err := r.svc.AddCoins(ctx, game.AddCoinsInput{
			ActorID:        cmd.UserID,
			TargetID:       target,
			Amount:         cmd.stringOpt("coins"),
			IdempotencyKey: key,
		})
		if err != nil {
			return nil, err
		}
		return text(fmt.Sprintf("%s coins added to the user.", res.Amount.StringFixed(3))), nil
	}
	return text("Unknown command."), nil
}

func errorReply(err error) string {
	switch {
	case errors.Is(err, game.ErrInsufficientFunds):
		return "Not enough coins."
	case errors.Is(err, game.ErrUnknownStock):
		return "Invalid stock ID."
	case errors.Is(err, game.ErrInsufficientHoldings):
		return "Not enough stock holdings."
	case errors.Is(err, game.ErrEmptyPortfolio):
		return "Your portfolio is empty."
	case errors.Is(err, game.ErrStockAlreadyExists):
		return "Stock already exists."
	case errors.Is(err, game.ErrInvalidAmount):
		return "Invalid amount. Please enter a valid number."
	case errors.Is(err, game.ErrInvalidQuantity):
		return "Quantity must be a positive whole number."
	case errors.Is(err, game.ErrInvalidSymbol):
		return "Stock IDs must be 1 to 12 letters or digits."
	case errors.Is(err, game.ErrAccountNotFound):
		return "Player not found."
	case errors.Is(err, game.ErrUnauthorized):
		return "You are not allowed to use this command."
	case errors.Is(err, game.ErrDuplicateIdempotency):
		return "This command was already processed."
	case errors.Is(err, game.ErrTxConflict):
		return "The market is busy, please try again."
	}
	return "An error occurred."
}
