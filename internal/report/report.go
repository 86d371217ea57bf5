// Package report computes the read-side aggregations shown on the dashboard
// and report pages. Every function is a pure query over a snapshot of sales
// or stock: the reference date is always passed in, never read from the
// process clock, so results are deterministic for a given snapshot and date.
package report

import (
	"sort"
	"time"

	"github.com/Mercy294/Mayondo/internal/domain"
	"github.com/Mercy294/Mayondo/internal/pricing"
)

// sameDay reports whether two times fall on the same calendar day (UTC).
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func sameMonth(a, b time.Time) bool {
	ay, am, _ := a.UTC().Date()
	by, bm, _ := b.UTC().Date()
	return ay == by && am == bm
}

// DailyTotal sums total price over sales dated exactly on the reference date.
func DailyTotal(sales []domain.Sale, ref time.Time) float64 {
	total := 0.0
	for _, s := range sales {
		if sameDay(s.Date, ref) {
			total += s.TotalPrice
		}
	}
	return pricing.Round1(total)
}

// MonthlyTotal sums total price over sales in the reference date's
// month and year.
func MonthlyTotal(sales []domain.Sale, ref time.Time) float64 {
	total := 0.0
	for _, s := range sales {
		if sameMonth(s.Date, ref) {
			total += s.TotalPrice
		}
	}
	return pricing.Round1(total)
}

// DailyAmount and MonthlyAmount mirror the totals above but sum the sale
// amount (line total plus transport), which is what the sales report shows.
func DailyAmount(sales []domain.Sale, ref time.Time) float64 {
	total := 0.0
	for _, s := range sales {
		if sameDay(s.Date, ref) {
			total += s.Amount()
		}
	}
	return pricing.Round1(total)
}

func MonthlyAmount(sales []domain.Sale, ref time.Time) float64 {
	total := 0.0
	for _, s := range sales {
		if sameMonth(s.Date, ref) {
			total += s.Amount()
		}
	}
	return pricing.Round1(total)
}

// MonthlySeries buckets sales by calendar month into the trailing n months
// ending at the reference date's month, oldest first. Months with no sales
// appear with a zero total.
func MonthlySeries(sales []domain.Sale, ref time.Time, n int) domain.ChartSeries {
	if n < 1 {
		n = 6
	}

	type bucket struct {
		year  int
		month time.Month
	}
	order := make([]bucket, 0, n)
	totals := make(map[bucket]float64, n)

	anchor := time.Date(ref.UTC().Year(), ref.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := n - 1; i >= 0; i-- {
		m := anchor.AddDate(0, -i, 0)
		b := bucket{year: m.Year(), month: m.Month()}
		order = append(order, b)
		totals[b] = 0
	}

	for _, s := range sales {
		d := s.Date.UTC()
		b := bucket{year: d.Year(), month: d.Month()}
		if _, ok := totals[b]; ok {
			totals[b] += s.TotalPrice
		}
	}

	series := domain.ChartSeries{
		Labels: make([]string, 0, n),
		Totals: make([]float64, 0, n),
	}
	for _, b := range order {
		label := time.Date(b.year, b.month, 1, 0, 0, 0, 0, time.UTC).Format("Jan 2006")
		series.Labels = append(series.Labels, label)
		series.Totals = append(series.Totals, pricing.Round1(totals[b]))
	}
	return series
}

// CategoryBreakdown sums on-hand quantity per stock category, ordered
// descending by the sum. Ties break alphabetically so output is stable.
func CategoryBreakdown(stocks []domain.StockItem) domain.ChartSeries {
	totals := make(map[string]int)
	for _, item := range stocks {
		totals[item.Category] += item.Quantity
	}

	categories := make([]string, 0, len(totals))
	for category := range totals {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		if totals[categories[i]] == totals[categories[j]] {
			return categories[i] < categories[j]
		}
		return totals[categories[i]] > totals[categories[j]]
	})

	series := domain.ChartSeries{
		Labels: make([]string, 0, len(categories)),
		Totals: make([]float64, 0, len(categories)),
	}
	for _, category := range categories {
		series.Labels = append(series.Labels, category)
		series.Totals = append(series.Totals, float64(totals[category]))
	}
	return series
}

// StockValue is the total stock valuation: Σ selling price × quantity.
func StockValue(stocks []domain.StockItem) float64 {
	total := 0.0
	for _, item := range stocks {
		total += item.SellingPrice * float64(item.Quantity)
	}
	return pricing.Round1(total)
}
