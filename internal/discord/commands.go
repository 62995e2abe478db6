// Package discord is the chat surface: slash command definitions, the
// command router, embeds, and the notifier that posts market alerts.
package discord

import (
	"github.com/bwmarrin/discordgo"
)

const (
	cmdSetup       = "setup"
	cmdBalance     = "balance"
	cmdCheckStocks = "checkstocks"
	cmdPortfolio   = "portfolio"
	cmdPrice       = "price"
	cmdBuy         = "buy"
	cmdSell        = "sell"
	cmdSellAll     = "sellall"
	cmdCreate      = "create"
	cmdPay         = "pay"
	cmdAddCoins    = "addcoins"
)

func stockOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "stock",
		Description: "Stock ID",
		Required:    true,
	}
}

func quantityOption(desc string) *discordgo.ApplicationCommandOption {
	minQty := 1.0
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "quantity",
		Description: desc,
		Required:    true,
		MinValue:    &minQty,
	}
}

// Commands returns the slash commands registered on ready.
func Commands() []*discordgo.ApplicationCommand {
	minPrice := 1.0
	return []*discordgo.ApplicationCommand{
		{Name: cmdBalance, Description: "Check your coin balance"},
		{Name: cmdCheckStocks, Description: "Check current stocks and their prices"},
		{Name: cmdPortfolio, Description: "Check your stock portfolio"},
		{Name: cmdSellAll, Description: "Sell all stocks in your portfolio"},
		{Name: cmdSetup, Description: "Set up your stock market account"},
		{
			Name:        cmdBuy,
			Description: "Buy stocks",
			Options:     []*discordgo.ApplicationCommandOption{stockOption(), quantityOption("Quantity to buy")},
		},
		{
			Name:        cmdSell,
			Description: "Sell stocks",
			Options:     []*discordgo.ApplicationCommandOption{stockOption(), quantityOption("Quantity to sell")},
		},
		{
			Name:        cmdCreate,
			Description: "Create a stock",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "stock_id",
					Description: "Stock ID",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionNumber,
					Name:        "initial_price",
					Description: "Initial price of the stock",
					Required:    true,
					MinValue:    &minPrice,
				},
			},
		},
		{
			Name:        cmdPay,
			Description: "Pay coins to another user",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to pay",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "amount",
					Description: "Amount to pay",
					Required:    true,
				},
			},
		},
		{
			Name:        cmdAddCoins,
			Description: "Add coins to an account",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "User to add coins to",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "coins",
					Description: "Amount of coins to add",
					Required:    true,
				},
			},
		},
		{
			Name:        cmdPrice,
			Description: "Check the current price of a stock",
			Options:     []*discordgo.ApplicationCommandOption{stockOption()},
		},
	}
}
