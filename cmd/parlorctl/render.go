package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/guptarohit/asciigraph"

	"github.com/parlor/parlor/internal/handler"
	"github.com/parlor/parlor/internal/service"
	"github.com/parlor/parlor/internal/usage"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func formatCost(c float64) string {
	return fmt.Sprintf("$%.4f", c)
}

// renderProfile draws the profile summary, a daily token chart and the
// per-model breakdown.
func renderProfile(p *service.Profile, now time.Time, chartWidth int) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(p.User.Email))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  (%s)", p.User.Role)))
	b.WriteString("\n")

	joined := humanize.RelTime(p.User.CreatedAt, now, "ago", "from now")
	seen := "never"
	if p.User.LastActivity != nil {
		seen = humanize.RelTime(*p.User.LastActivity, now, "ago", "from now")
	}
	b.WriteString(fmt.Sprintf("joined %s, last active %s\n", joined, seen))
	b.WriteString(fmt.Sprintf("%s conversations, %s messages\n\n",
		humanize.Comma(p.Usage.Conversations), humanize.Comma(p.Usage.Messages)))

	var total usage.Totals
	for _, d := range p.Usage.Daily {
		total.InputTokens += d.InputTokens
		total.OutputTokens += d.OutputTokens
		total.TotalTokens += d.TotalTokens
		total.TotalCost += d.TotalCost
	}
	b.WriteString(fmt.Sprintf("window: %s tokens (%s in, %s out), %s\n\n",
		humanize.Comma(total.TotalTokens), humanize.Comma(total.InputTokens),
		humanize.Comma(total.OutputTokens), formatCost(total.TotalCost)))

	if chart := dailyChart(p.Usage.Daily, chartWidth); chart != "" {
		b.WriteString(chart)
		b.WriteString("\n\n")
	}

	if len(p.Usage.ByModel) == 0 {
		b.WriteString(mutedStyle.Render("No usage in this window."))
		b.WriteString("\n")
		return b.String()
	}

	t := newTable("MODEL", "INPUT", "OUTPUT", "TOTAL", "COST")
	for _, m := range p.Usage.ByModel {
		t.Row(m.Model,
			humanize.Comma(m.InputTokens),
			humanize.Comma(m.OutputTokens),
			humanize.Comma(m.TotalTokens),
			formatCost(m.TotalCost),
		)
	}
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}

// dailyChart plots total tokens per dated day. The "unknown" bucket has no
// place on a time axis and is left out.
func dailyChart(daily []usage.DailyUsage, width int) string {
	series := make([]float64, 0, len(daily))
	for _, d := range daily {
		if d.Date == usage.Unknown {
			continue
		}
		series = append(series, float64(d.TotalTokens))
	}
	if len(series) < 2 {
		return ""
	}
	if width < 20 {
		width = 20
	}
	return asciigraph.Plot(series,
		asciigraph.Height(8),
		asciigraph.Width(width),
		asciigraph.Caption(fmt.Sprintf("tokens per day, %s to %s", firstDated(daily), lastDated(daily))),
	)
}

func firstDated(daily []usage.DailyUsage) string {
	for _, d := range daily {
		if d.Date != usage.Unknown {
			return d.Date
		}
	}
	return ""
}

func lastDated(daily []usage.DailyUsage) string {
	for i := len(daily) - 1; i >= 0; i-- {
		if daily[i].Date != usage.Unknown {
			return daily[i].Date
		}
	}
	return ""
}

func renderTools(list *handler.ToolListResponse, now time.Time) string {
	var b strings.Builder

	updated := "never"
	if list.UpdatedAt != nil {
		updated = humanize.RelTime(*list.UpdatedAt, now, "ago", "from now")
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("%d tools", len(list.Tools))))
	b.WriteString(mutedStyle.Render(fmt.Sprintf("  version %d, published %s", list.Version, updated)))
	b.WriteString("\n")

	if len(list.Tools) == 0 {
		return b.String()
	}

	t := newTable("NAME", "SOURCE", "SERVER", "DESCRIPTION")
	for _, tool := range list.Tools {
		t.Row(tool.Name, tool.Source, tool.Server, tool.Description)
	}
	b.WriteString(t.String())
	b.WriteString("\n")
	return b.String()
}
