package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"stockbot/internal/events"
	"stockbot/internal/game"
)

const (
	colorBlue = 0x0099ff
	colorRed  = 0xff0000

	maxEmbedFields      = 25
	maxEmbedsPerMessage = 10
	maxDescriptionLen   = 4096
	blankField          = "\u200b"
)

// stockEmbeds renders the market listing. Each stock takes two inline fields
// (the entry and a spacer), so an embed holds twelve stocks.
func stockEmbeds(stocks []game.StockView) []*discordgo.MessageEmbed {
	const perEmbed = maxEmbedFields / 2
	var out []*discordgo.MessageEmbed
	for start := 0; start < len(stocks); start += perEmbed {
		if len(out) == maxEmbedsPerMessage {
			out[len(out)-1].Footer = &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("%d more stocks not shown", len(stocks)-start),
			}
			break
		}
		end := min(start+perEmbed, len(stocks))
		embed := &discordgo.MessageEmbed{Color: colorBlue}
		if start == 0 {
			embed.Title = "Current Stocks and Prices"
		}
		for _, st := range stocks[start:end] {
			embed.Fields = append(embed.Fields,
				&discordgo.MessageEmbedField{
					Name:   st.Symbol,
					Value:  fmt.Sprintf("Price: %s coins\nQuantity Owned: %d", st.Price.StringFixed(3), st.Owned),
					Inline: true,
				},
				&discordgo.MessageEmbedField{Name: " ", Value: blankField, Inline: true},
			)
		}
		out = append(out, embed)
	}
	return out
}

// portfolioEmbeds renders four fields per line, six lines per embed.
func portfolioEmbeds(p game.Portfolio) []*discordgo.MessageEmbed {
	const perEmbed = maxEmbedFields / 4
	var out []*discordgo.MessageEmbed
	for start := 0; start < len(p.Lines); start += perEmbed {
		if len(out) == maxEmbedsPerMessage {
			out[len(out)-1].Footer = &discordgo.MessageEmbedFooter{
				Text: fmt.Sprintf("%d more holdings not shown", len(p.Lines)-start),
			}
			break
		}
		end := min(start+perEmbed, len(p.Lines))
		embed := &discordgo.MessageEmbed{Color: colorBlue}
		if start == 0 {
			embed.Title = fmt.Sprintf("Stock Portfolio - Total Value: %s coins", p.Total.StringFixed(3))
		}
		for _, line := range p.Lines[start:end] {
			embed.Fields = append(embed.Fields,
				&discordgo.MessageEmbedField{Name: "Stock", Value: line.Symbol, Inline: true},
				&discordgo.MessageEmbedField{Name: "Quantity", Value: strconv.FormatInt(line.Quantity, 10), Inline: true},
				&discordgo.MessageEmbedField{Name: "Price", Value: line.Price.StringFixed(3) + " coins", Inline: true},
				&discordgo.MessageEmbedField{Name: " ", Value: blankField},
			)
		}
		out = append(out, embed)
	}
	return out
}

func priceAlertEmbed(ev events.PriceChanged) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Stock Price Fluctuation",
		Description: fmt.Sprintf(
			"The price of %s has changed significantly after a %s transaction.\nPercentage Change: %s%%\nNew Price: %s coins",
			ev.Symbol, strings.ToLower(string(ev.Side)), ev.ChangePct.StringFixed(2), ev.NewPrice.StringFixed(3),
		),
		Color: colorRed,
	}
}

// driftEmbeds joins update descriptions with blank lines, splitting into
// several embeds when the description limit would be exceeded.
func driftEmbeds(ev events.DriftApplied) []*discordgo.MessageEmbed {
	var out []*discordgo.MessageEmbed
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		out = append(out, &discordgo.MessageEmbed{
			Title:       "Stock Price Updates",
			Description: b.String(),
			Color:       colorBlue,
		})
		b.Reset()
	}
	for _, u := range ev.Updates {
		desc := u.Description()
		if b.Len() > 0 && b.Len()+2+len(desc) > maxDescriptionLen {
			flush()
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(desc)
	}
	flush()
	return out
}
