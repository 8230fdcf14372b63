package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// AddRollingFeatures sorts rows by (product, date) and fills AvgSales7d and
// SalesGrowth30d. Each window is (date - N days, date] over the product's rows
// up to and including the current one, so later rows never leak backwards.
// The returned slice is the sorted input.
func AddRollingFeatures(rows []domain.FeatureRow) []domain.FeatureRow {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ProductID != rows[j].ProductID {
			return rows[i].ProductID < rows[j].ProductID
		}
		return rows[i].Date.Before(rows[j].Date)
	})

	for start := 0; start < len(rows); {
		end := start
		for end < len(rows) && rows[end].ProductID == rows[start].ProductID {
			end++
		}
		rollPartition(rows[start:end])
		start = end
	}

	return rows
}

// rollPartition computes the windows for one product's date-sorted rows.
func rollPartition(rows []domain.FeatureRow) {
	prefix := make([]float64, len(rows)+1)
	for i, r := range rows {
		prefix[i+1] = prefix[i] + r.Quantity
	}

	short := newWindow(ShortWindowDays)
	growth := newWindow(GrowthWindowDays)
	base := newWindow(BaseWindowDays)

	for i := range rows {
		date := rows[i].Date
		m7 := short.mean(rows, prefix, i, date)
		m30 := growth.mean(rows, prefix, i, date)
		m60 := base.mean(rows, prefix, i, date)

		rows[i].AvgSales7d = m7
		rows[i].SalesGrowth30d = growthRatio(m30, m60)
	}
}

// window is a trailing time window advanced with a single left pointer.
type window struct {
	days int
	lo   int
}

func newWindow(days int) *window {
	return &window{days: days}
}

func (w *window) mean(rows []domain.FeatureRow, prefix []float64, i int, date time.Time) float64 {
	cutoff := date.AddDate(0, 0, -w.days)
	for w.lo < i && !rows[w.lo].Date.After(cutoff) {
		w.lo++
	}
	n := i - w.lo + 1
	return (prefix[i+1] - prefix[w.lo]) / float64(n)
}

// growthRatio returns m30/m60 - 1, or 0 when the ratio is undefined.
func growthRatio(m30, m60 float64) float64 {
	if m60 == 0 {
		return 0
	}
	g := m30/m60 - 1
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return 0
	}
	return g
}
