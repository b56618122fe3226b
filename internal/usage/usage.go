// Package usage folds a user's token transactions into daily and per-model reports.
package usage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/parlor/parlor/internal/model"
)

// Unknown labels transactions without a timestamp or model.
const Unknown = "unknown"

// DateLayout is the day bucket key format.
const DateLayout = "2006-01-02"

// Totals are the running sums kept per bucket.
type Totals struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalTokens  int64   `json:"totalTokens"`
	TotalCost    float64 `json:"totalCost"`
}

func (t *Totals) add(tx model.Transaction) {
	n := tx.TokenMagnitude()
	t.TotalTokens += n
	switch tx.TokenType {
	case model.TokenPrompt:
		t.InputTokens += n
	case model.TokenCompletion:
		t.OutputTokens += n
	}
	t.TotalCost += tx.Cost()
}

// DailyUsage is the usage for one calendar day.
type DailyUsage struct {
	Date string `json:"date"`
	Totals
}

// ModelUsage is the usage for one model.
type ModelUsage struct {
	Model string `json:"model"`
	Totals
}

// Report is the folded usage window.
type Report struct {
	Daily   []DailyUsage `json:"daily"`
	ByModel []ModelUsage `json:"byModel"`
}

// WindowStart returns local midnight days days before now in loc.
func WindowStart(now time.Time, days int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()-days, 0, 0, 0, 0, loc)
}

// Aggregate folds transactions into a Report in a single pass. Days are
// computed in loc. Daily rows are sorted by date; model rows by descending
// total tokens, ties in first-seen order.
func Aggregate(txs []model.Transaction, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}

	days := make(map[string]*Totals)
	models := make(map[string]*Totals)
	var modelOrder []string

	for _, tx := range txs {
		day := Unknown
		if tx.CreatedAt != nil {
			day = tx.CreatedAt.In(loc).Format(DateLayout)
		}
		name := tx.Model
		if name == "" {
			name = Unknown
		}

		d, ok := days[day]
		if !ok {
			d = &Totals{}
			days[day] = d
		}
		d.add(tx)

		m, ok := models[name]
		if !ok {
			m = &Totals{}
			models[name] = m
			modelOrder = append(modelOrder, name)
		}
		m.add(tx)
	}

	report := Report{
		Daily:   make([]DailyUsage, 0, len(days)),
		ByModel: make([]ModelUsage, 0, len(models)),
	}
	for day, totals := range days {
		report.Daily = append(report.Daily, DailyUsage{Date: day, Totals: *totals})
	}
	sort.Slice(report.Daily, func(i, j int) bool {
		return report.Daily[i].Date < report.Daily[j].Date
	})

	for _, name := range modelOrder {
		report.ByModel = append(report.ByModel, ModelUsage{Model: name, Totals: *models[name]})
	}
	sort.SliceStable(report.ByModel, func(i, j int) bool {
		return report.ByModel[i].TotalTokens > report.ByModel[j].TotalTokens
	})

	return report
}

// TransactionReader lists a user's transactions created at or after since,
// plus any without a timestamp.
type TransactionReader interface {
	ListTransactionsSince(ctx context.Context, userID string, since time.Time) ([]model.Transaction, error)
}

// Aggregator produces reports over a fixed lookback window.
type Aggregator struct {
	reader TransactionReader
	days   int
	loc    *time.Location
}

// NewAggregator creates an Aggregator with a window of days days in loc.
func NewAggregator(reader TransactionReader, days int, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{reader: reader, days: days, loc: loc}
}

// Report reads the user's window ending at now and folds it.
func (a *Aggregator) Report(ctx context.Context, userID string, now time.Time) (Report, error) {
	since := WindowStart(now, a.days, a.loc)
	txs, err := a.reader.ListTransactionsSince(ctx, userID, since)
	if err != nil {
		return Report{}, fmt.Errorf("list transactions: %w", err)
	}
	return Aggregate(txs, a.loc), nil
}
