package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"

	"stockbot/internal/game"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func renderStocks(stocks []game.StockView) {
	if len(stocks) == 0 {
		printWarn("No stocks available.")
		return
	}
	accent.Println("Current Stocks and Prices")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tPRICE")
	for _, st := range stocks {
		fmt.Fprintf(w, "%s\t%s\n", st.Symbol, st.Price.StringFixed(3))
	}
	_ = w.Flush()
}

func renderPortfolio(p game.Portfolio) {
	if len(p.Lines) == 0 {
		printWarn("Portfolio is empty.")
		return
	}
	accent.Printf("Stock Portfolio - Total Value: %s coins\n", p.Total.StringFixed(3))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STOCK\tQUANTITY\tPRICE\tVALUE")
	for _, line := range p.Lines {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", line.Symbol, line.Quantity, line.Price.StringFixed(3), line.Value.StringFixed(3))
	}
	_ = w.Flush()
}
