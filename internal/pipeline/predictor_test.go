package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func TestPredictor_UsesTodayCalendarAndLatestRow(t *testing.T) {
	today := day(2024, 6, 3) // Monday
	rows := []domain.FeatureRow{
		{ProductID: 1, Date: day(2024, 5, 1), AvgSales7d: 1, DemandSupplyRatio: f64(0.1)},
		{ProductID: 1, Date: day(2024, 5, 20), AvgSales7d: 7, DemandSupplyRatio: f64(0.7)},
		{ProductID: 1, Date: day(2024, 5, 10), AvgSales7d: 3, DemandSupplyRatio: f64(0.3)},
	}

	var seen []float64
	model := modelFunc(func(x []float64) float64 {
		seen = x
		return 12
	})

	got, err := NewPredictor(model, 1).Predict(context.Background(), rows, []domain.Product{{ID: 1}}, today)
	require.NoError(t, err)

	assert.Equal(t, []float64{0, 6, 7, 0.7}, seen)
	assert.Equal(t, domain.PredictionMap{1: 12}, got.Values)
	assert.Empty(t, got.Skipped)
}

func TestPredictor_FallsBackToLastKnownRatio(t *testing.T) {
	rows := []domain.FeatureRow{
		{ProductID: 1, Date: day(2024, 5, 10), AvgSales7d: 3, DemandSupplyRatio: f64(0.3)},
		{ProductID: 1, Date: day(2024, 5, 20), AvgSales7d: 7},
	}

	var seen []float64
	model := modelFunc(func(x []float64) float64 {
		seen = x
		return 1
	})

	_, err := NewPredictor(model, 1).Predict(context.Background(), rows, []domain.Product{{ID: 1}}, day(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, 3.0, seen[2])
	assert.Equal(t, 0.3, seen[3])
}

func TestPredictor_SkipsProductsWithoutUsableRows(t *testing.T) {
	rows := []domain.FeatureRow{
		{ProductID: 1, Date: day(2024, 5, 10), DemandSupplyRatio: f64(1)},
		{ProductID: 2, Date: day(2024, 5, 10)},
	}
	products := []domain.Product{{ID: 1}, {ID: 2, QtyAvailable: 4}, {ID: 3}}

	got, err := NewPredictor(modelFunc(func([]float64) float64 { return 5 }), 4).
		Predict(context.Background(), rows, products, day(2024, 6, 1))
	require.NoError(t, err)

	assert.Equal(t, domain.PredictionMap{1: 5}, got.Values)
	require.Len(t, got.Skipped, 2)
	assert.Equal(t, int64(2), got.Skipped[0].ProductID)
	assert.Equal(t, domain.OutcomeSkipped, got.Skipped[0].Status)
	assert.Equal(t, 4.0, got.Skipped[0].CurrentStock)
	assert.Equal(t, reasonNoRatio, got.Skipped[0].Reason)
	assert.Equal(t, reasonNoHistory, got.Skipped[1].Reason)
}

func TestPredictor_ClampsNegativePredictions(t *testing.T) {
	rows := []domain.FeatureRow{{ProductID: 1, Date: day(2024, 5, 10), DemandSupplyRatio: f64(1)}}

	got, err := NewPredictor(modelFunc(func([]float64) float64 { return -4 }), 1).
		Predict(context.Background(), rows, []domain.Product{{ID: 1}}, day(2024, 6, 1))
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Values[1])
}

func TestPredictor_ManyProductsConcurrently(t *testing.T) {
	var rows []domain.FeatureRow
	var products []domain.Product
	for id := int64(1); id <= 200; id++ {
		rows = append(rows, domain.FeatureRow{ProductID: id, Date: day(2024, 5, 1), AvgSales7d: float64(id), DemandSupplyRatio: f64(1)})
		products = append(products, domain.Product{ID: id})
	}

	got, err := NewPredictor(modelFunc(func(x []float64) float64 { return x[2] * 2 }), 8).
		Predict(context.Background(), rows, products, day(2024, 6, 1))
	require.NoError(t, err)
	require.Len(t, got.Values, 200)
	for id := int64(1); id <= 200; id++ {
		assert.Equal(t, float64(id)*2, got.Values[id])
	}
}

func TestPredictor_ModelPanicBecomesError(t *testing.T) {
	rows := []domain.FeatureRow{{ProductID: 1, Date: day(2024, 5, 10), DemandSupplyRatio: f64(1)}}
	model := modelFunc(func([]float64) float64 { panic("index out of range") })

	var err error
	require.NotPanics(t, func() {
		_, err = NewPredictor(model, 2).Predict(context.Background(), rows, []domain.Product{{ID: 1}}, day(2024, 6, 1))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
}
