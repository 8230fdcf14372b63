package pipeline

import (
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// AddTemporalFeatures derives calendar features for every cleaned record.
// Output order matches input order.
func AddTemporalFeatures(records []domain.SalesRecord) []domain.FeatureRow {
	rows := make([]domain.FeatureRow, len(records))
	for i, r := range records {
		rows[i] = domain.FeatureRow{
			ProductID:  r.ProductID,
			Date:       r.Date,
			Quantity:   r.Quantity,
			UnitPrice:  r.UnitPrice,
			DayOfWeek:  DayOfWeek(r.Date),
			Month:      int(r.Date.Month()),
			IsMonthEnd: IsMonthEnd(r.Date),
		}
	}
	return rows
}

// DayOfWeek returns 0 for Monday through 6 for Sunday.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// IsMonthEnd reports whether t falls on the last day of its month.
func IsMonthEnd(t time.Time) bool {
	return t.AddDate(0, 0, 1).Day() == 1
}
