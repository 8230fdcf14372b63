package pipeline

import (
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func f64(v float64) *float64 { return &v }

func i64(v int64) *int64 { return &v }

func tptr(t time.Time) *time.Time { return &t }

func salesRow(productID int64, at time.Time, qty float64) domain.SalesRow {
	return domain.SalesRow{OrderDate: tptr(at), ProductID: i64(productID), Quantity: f64(qty), UnitPrice: 2.5}
}

func featureRow(productID int64, date time.Time, qty float64) domain.FeatureRow {
	return domain.FeatureRow{ProductID: productID, Date: date, Quantity: qty}
}

type modelFunc func(x []float64) float64

func (f modelFunc) Predict(x []float64) float64 { return f(x) }
