package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"stockbot/internal/events"
	"stockbot/internal/game"
	"stockbot/internal/market"
)

type sent struct {
	channel string
	embed   *discordgo.MessageEmbed
}

type fakeSender struct {
	sent []sent
	err  error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, sent{channel: channelID, embed: embed})
	return &discordgo.Message{}, nil
}

func TestNotifierPriceAlert(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, "alerts", "drift", nil)
	err := n.Handle(context.Background(), events.PriceChanged{
		Symbol:    "ABC",
		Side:      market.SideBuy,
		OldPrice:  decimal.NewFromInt(10),
		NewPrice:  decimal.RequireFromString("10.5"),
		ChangePct: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	require.Len(t, s.sent, 1)
	require.Equal(t, "alerts", s.sent[0].channel)
	require.Equal(t, "Stock Price Fluctuation", s.sent[0].embed.Title)
	require.Equal(t, colorRed, s.sent[0].embed.Color)
	require.Equal(t,
		"The price of ABC has changed significantly after a buy transaction.\nPercentage Change: 5.00%\nNew Price: 10.500 coins",
		s.sent[0].embed.Description)
}

func TestNotifierDriftSummary(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, "alerts", "drift", nil)
	err := n.Handle(context.Background(), events.DriftApplied{Updates: []events.DriftUpdate{
		{Symbol: "AAA", NewPrice: decimal.NewFromInt(1)},
		{Symbol: "BBB", NewPrice: decimal.RequireFromString("20.25")},
	}})
	require.NoError(t, err)
	require.Len(t, s.sent, 1)
	require.Equal(t, "drift", s.sent[0].channel)
	require.Equal(t, "Stock Price Updates", s.sent[0].embed.Title)
	require.Equal(t,
		"Stock price updated for AAA.\nNew price: 1.000\n\nStock price updated for BBB.\nNew price: 20.250",
		s.sent[0].embed.Description)
}

func TestNotifierSkipsUnconfiguredChannel(t *testing.T) {
	s := &fakeSender{}
	n := NewNotifier(s, "", "", nil)
	require.NoError(t, n.Handle(context.Background(), events.PriceChanged{Symbol: "ABC", Side: market.SideSell}))
	require.NoError(t, n.Handle(context.Background(), events.TradeExecuted{}))
	require.Empty(t, s.sent)
}

func TestNotifierSurfacesSendError(t *testing.T) {
	s := &fakeSender{err: errors.New("missing access")}
	n := NewNotifier(s, "alerts", "drift", nil)
	err := n.Handle(context.Background(), events.PriceChanged{Symbol: "ABC", Side: market.SideSell})
	require.ErrorIs(t, err, s.err)
}

func TestDriftEmbedsSplitLongSummaries(t *testing.T) {
	var updates []events.DriftUpdate
	for i := 0; i < 200; i++ {
		updates = append(updates, events.DriftUpdate{Symbol: fmt.Sprintf("SYM%03d", i), NewPrice: decimal.NewFromInt(int64(i + 1))})
	}
	embeds := driftEmbeds(events.DriftApplied{Updates: updates})
	require.Greater(t, len(embeds), 1)
	total := 0
	for _, e := range embeds {
		require.LessOrEqual(t, len(e.Description), maxDescriptionLen)
		total += strings.Count(e.Description, "Stock price updated for")
	}
	require.Equal(t, 200, total)
}

func TestStockEmbedsChunking(t *testing.T) {
	var stocks []game.StockView
	for i := 0; i < 130; i++ {
		stocks = append(stocks, game.StockView{Symbol: fmt.Sprintf("S%d", i), Price: decimal.NewFromInt(1)})
	}
	embeds := stockEmbeds(stocks)
	require.Len(t, embeds, maxEmbedsPerMessage)
	for _, e := range embeds {
		require.LessOrEqual(t, len(e.Fields), maxEmbedFields)
	}
	require.NotNil(t, embeds[len(embeds)-1].Footer)
	require.Equal(t, "10 more stocks not shown", embeds[len(embeds)-1].Footer.Text)
}
