package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// Clean normalizes order dates to calendar dates, keeps rows strictly after
// today - lookbackDays and drops rows without a product or a usable quantity.
func Clean(rows []domain.SalesRow, today time.Time, lookbackDays int) ([]domain.SalesRecord, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	cutoff := domain.DateOf(today).AddDate(0, 0, -lookbackDays)

	out := make([]domain.SalesRecord, 0, len(rows))
	for _, r := range rows {
		if r.OrderDate == nil || r.ProductID == nil || r.Quantity == nil {
			continue
		}
		qty := *r.Quantity
		if math.IsNaN(qty) || math.IsInf(qty, 0) || qty < 0 {
			continue
		}

		date := domain.DateOf(*r.OrderDate)
		if !date.After(cutoff) {
			continue
		}

		out = append(out, domain.SalesRecord{
			Date:      date,
			OrderDate: *r.OrderDate,
			ProductID: *r.ProductID,
			Quantity:  qty,
			UnitPrice: r.UnitPrice,
		})
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no usable sales rows after %s (%d read)",
			domain.ErrInsufficientData, cutoff.Format("2006-01-02"), len(rows))
	}

	return out, nil
}
