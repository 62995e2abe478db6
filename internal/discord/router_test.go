package discord

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"

	"stockbot/internal/game"
	"stockbot/internal/ledger"
)

func opt(name string, typ discordgo.ApplicationCommandOptionType, v any) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: typ, Value: v}
}

func command(name, user string, opts ...*discordgo.ApplicationCommandInteractionDataOption) Command {
	cmd := Command{Name: name, UserID: user, Options: map[string]*discordgo.ApplicationCommandInteractionDataOption{}}
	for _, o := range opts {
		cmd.Options[o.Name] = o
	}
	return cmd
}

func newRouter(t *testing.T, opts ...game.Option) *Router {
	t.Helper()
	svc := game.NewService(ledger.NewMemoryStore(), nil, opts...)
	return NewRouter(svc, nil)
}

func TestRouterTradingFlow(t *testing.T) {
	ctx := context.Background()
	r := newRouter(t)

	steps := []struct {
		cmd  Command
		want string
	}{
		{command(cmdSetup, "u1"), "Your account has been successfully set up."},
		{command(cmdSetup, "u1"), "You already have an account."},
		{command(cmdBalance, "u1"), "You have 0.000 coins."},
		{command(cmdAddCoins, "admin",
			opt("user", discordgo.ApplicationCommandOptionUser, "u1"),
			opt("coins", discordgo.ApplicationCommandOptionString, "1000")), "1000.000 coins added to the user."},
		{command(cmdCreate, "admin",
			opt("stock_id", discordgo.ApplicationCommandOptionString, "abc"),
			opt("initial_price", discordgo.ApplicationCommandOptionNumber, 10.0)), `Stock "ABC" created with initial price 10.000 coins.`},
		{command(cmdCreate, "admin",
			opt("stock_id", discordgo.ApplicationCommandOptionString, "ABC"),
			opt("initial_price", discordgo.ApplicationCommandOptionNumber, 50.0)), "Stock already exists."},
		{command(cmdBuy, "u1",
			opt("stock", discordgo.ApplicationCommandOptionString, "abc"),
			opt("quantity", discordgo.ApplicationCommandOptionInteger, 5.0)), "You bought 5 ABC stocks for 50.000 coins. New price of ABC is 10.500 coins."},
		{command(cmdPrice, "u1",
			opt("stock", discordgo.ApplicationCommandOptionString, "abc")), "The current price of ABC is 10.500 coins."},
		{command(cmdSell, "u1",
			opt("stock", discordgo.ApplicationCommandOptionString, "ABC"),
			opt("quantity", discordgo.ApplicationCommandOptionInteger, 6.0)), "Not enough stock holdings."},
		{command(cmdSell, "u1",
			opt("stock", discordgo.ApplicationCommandOptionString, "ABC"),
			opt("quantity", discordgo.ApplicationCommandOptionInteger, 5.0)), "You sold 5 ABC stocks for 52.500 coins. New price of ABC is 9.975 coins."},
		{command(cmdSellAll, "u1"), "Your portfolio is empty."},
		{command(cmdPortfolio, "u1"), "Your portfolio is empty."},
		{command(cmdPay, "u1",
			opt("user", discordgo.ApplicationCommandOptionUser, "u2"),
			opt("amount", discordgo.ApplicationCommandOptionString, "100")), "You paid 100.000 coins to <@u2>."},
		{command(cmdPay, "u1",
			opt("user", discordgo.ApplicationCommandOptionUser, "u2"),
			opt("amount", discordgo.ApplicationCommandOptionString, "lots")), "Invalid amount. Please enter a valid number."},
		{command(cmdPay, "u1",
			opt("user", discordgo.ApplicationCommandOptionUser, "u2"),
			opt("amount", discordgo.ApplicationCommandOptionString, "1000000")), "Not enough coins."},
		{command(cmdBalance, "u2"), "You have 100.000 coins."},
		{command(cmdPrice, "u1",
			opt("stock", discordgo.ApplicationCommandOptionString, "zzz")), "Invalid stock ID."},
		{command("dance", "u1"), "Unknown command."},
	}
	for i, step := range steps {
		got := r.Dispatch(ctx, step.cmd)
		require.Equal(t, step.want, got.Content, "step %d (%s)", i, step.cmd.Name)
	}
}

func TestRouterIdempotentInteraction(t *testing.T) {
	ctx := context.Background()
	r := newRouter(t)
	r.Dispatch(ctx, command(cmdAddCoins, "admin",
		opt("user", discordgo.ApplicationCommandOptionUser, "u1"),
		opt("coins", discordgo.ApplicationCommandOptionString, "10")))

	pay := command(cmdPay, "u1",
		opt("user", discordgo.ApplicationCommandOptionUser, "u2"),
		opt("amount", discordgo.ApplicationCommandOptionString, "4"))
	pay.InteractionID = "interaction-7"
	require.Equal(t, "You paid 4.000 coins to <@u2>.", r.Dispatch(ctx, pay).Content)
	require.Equal(t, "This command was already processed.", r.Dispatch(ctx, pay).Content)
	require.Equal(t, "You have 6.000 coins.", r.Dispatch(ctx, command(cmdBalance, "u1")).Content)
}

func TestRouterAdminGate(t *testing.T) {
	r := newRouter(t, game.WithAdmins([]string{"root"}))
	got := r.Dispatch(context.Background(), command(cmdAddCoins, "u1",
		opt("user", discordgo.ApplicationCommandOptionUser, "u1"),
		opt("coins", discordgo.ApplicationCommandOptionString, "10")))
	require.Equal(t, "You are not allowed to use this command.", got.Content)
}

func TestRouterEmbeds(t *testing.T) {
	ctx := context.Background()
	r := newRouter(t)
	require.Equal(t, "No stocks available.", r.Dispatch(ctx, command(cmdCheckStocks, "u1")).Content)

	r.Dispatch(ctx, command(cmdAddCoins, "admin",
		opt("user", discordgo.ApplicationCommandOptionUser, "u1"),
		opt("coins", discordgo.ApplicationCommandOptionString, "1000")))
	for i := 0; i < 3; i++ {
		r.Dispatch(ctx, command(cmdCreate, "admin",
			opt("stock_id", discordgo.ApplicationCommandOptionString, fmt.Sprintf("S%d", i)),
			opt("initial_price", discordgo.ApplicationCommandOptionNumber, 2.0)))
	}
	r.Dispatch(ctx, command(cmdBuy, "u1",
		opt("stock", discordgo.ApplicationCommandOptionString, "S1"),
		opt("quantity", discordgo.ApplicationCommandOptionInteger, 2.0)))

	stocks := r.Dispatch(ctx, command(cmdCheckStocks, "u1"))
	require.Len(t, stocks.Embeds, 1)
	require.Equal(t, "Current Stocks and Prices", stocks.Embeds[0].Title)
	require.Len(t, stocks.Embeds[0].Fields, 6)
	require.Equal(t, "Price: 2.040 coins\nQuantity Owned: 2", stocks.Embeds[0].Fields[2].Value)

	pf := r.Dispatch(ctx, command(cmdPortfolio, "u1"))
	require.Len(t, pf.Embeds, 1)
	require.Equal(t, "Stock Portfolio - Total Value: 4.080 coins", pf.Embeds[0].Title)
	require.Equal(t, "S1", pf.Embeds[0].Fields[0].Value)
}

func TestCommandFromInteraction(t *testing.T) {
	i := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:     "int-1",
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: "u9"}},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: cmdBuy,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				opt("stock", discordgo.ApplicationCommandOptionString, "abc"),
				opt("quantity", discordgo.ApplicationCommandOptionInteger, 3.0),
			},
		},
	}}
	cmd, ok := CommandFromInteraction(i)
	require.True(t, ok)
	require.Equal(t, "u9", cmd.UserID)
	require.Equal(t, "int-1", cmd.InteractionID)
	require.Equal(t, "abc", cmd.stringOpt("stock"))
	require.EqualValues(t, 3, cmd.intOpt("quantity"))

	_, ok = CommandFromInteraction(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: discordgo.InteractionPing}})
	require.False(t, ok)
}

func TestCommandsCoverRouter(t *testing.T) {
	names := map[string]bool{}
	for _, c := range Commands() {
		names[c.Name] = true
	}
	for _, want := range []string{cmdSetup, cmdBalance, cmdCheckStocks, cmdPortfolio, cmdPrice, cmdBuy, cmdSell, cmdSellAll, cmdCreate, cmdPay, cmdAddCoins} {
		require.True(t, names[want], want)
	}
	require.Len(t, names, 11)
}
