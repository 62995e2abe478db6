package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"stockbot/internal/game"
	"stockbot/internal/market"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	frameStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

type snapshot struct {
	stocks []game.StockView
	total  decimal.Decimal
	at     time.Time
}

type snapshotMsg struct {
	snap snapshot
	err  error
}

type tickMsg time.Time

type fetchFunc func(ctx context.Context) (snapshot, error)

type watchModel struct {
	fetch   fetchFunc
	every   time.Duration
	table   table.Model
	last    map[string]decimal.Decimal
	current snapshot
	err     error
}

func newWatchModel(fetch fetchFunc, every time.Duration) watchModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Symbol", Width: 12},
			{Title: "Price", Width: 14},
			{Title: "Change", Width: 10},
		}),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(s)
	return watchModel{fetch: fetch, every: every, table: t, last: map[string]decimal.Decimal{}}
}

func (m watchModel) load() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		snap, err := m.fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m watchModel) Init() tea.Cmd {
	return m.load()
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load()
		}
	case tickMsg:
		return m, m.load()
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.table.SetRows(m.rows(msg.snap.stocks))
			m.current = msg.snap
		}
		return m, m.tick()
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// rows renders the change since the previous refresh and remembers the
// prices for the next one.
func (m watchModel) rows(stocks []game.StockView) []table.Row {
	out := make([]table.Row, 0, len(stocks))
	for _, st := range stocks {
		change := "-"
		if prev, ok := m.last[st.Symbol]; ok {
			change = market.PercentChange(prev, st.Price).StringFixed(2) + "%"
		}
		m.last[st.Symbol] = st.Price
		out = append(out, table.Row{st.Symbol, st.Price.StringFixed(3), change})
	}
	return out
}

func (m watchModel) View() string {
	header := titleStyle.Render(fmt.Sprintf("Market value: %s coins", m.current.total.StringFixed(3)))
	if !m.current.at.IsZero() {
		header += helpStyle.Render("  updated " + m.current.at.Format(time.TimeOnly))
	}
	body := frameStyle.Render(m.table.View())
	footer := helpStyle.Render("r refresh • q quit")
	if m.err != nil {
		footer = errorStyle.Render("refresh failed: "+m.err.Error()) + "\n" + footer
	}
	return header + "\n" + body + "\n" + footer + "\n"
}

func newWatchCmd(g *globals) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live market table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("watch needs an interactive terminal")
			}
			if every <= 0 {
				return errors.New("--every must be positive")
			}
			client := g.client()
			fetch := func(ctx context.Context) (snapshot, error) {
				stocks, err := client.ListStocks(ctx)
				if err != nil {
					return snapshot{}, err
				}
				total, err := client.MarketValue(ctx)
				if err != nil {
					return snapshot{}, err
				}
				return snapshot{stocks: stocks, total: total, at: time.Now()}, nil
			}
			p := tea.NewProgram(newWatchModel(fetch, every), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "every", 2*time.Second, "refresh period")
	return cmd
}
