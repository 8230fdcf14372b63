package pipeline

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func TestAddRollingFeatures_SevenDayMeanPerProduct(t *testing.T) {
	base := day(2024, 3, 1)
	rows := []domain.FeatureRow{
		featureRow(1, base.AddDate(0, 0, 10), 4),
		featureRow(2, base, 100),
		featureRow(1, base, 1),
		featureRow(1, base.AddDate(0, 0, 2), 3),
		featureRow(1, base.AddDate(0, 0, 1), 2),
	}

	got := AddRollingFeatures(rows)
	require.Len(t, got, 5)

	// product 1 sorted by date, then product 2
	assert.Equal(t, []float64{1, 2, 3, 4, 100}, []float64{got[0].Quantity, got[1].Quantity, got[2].Quantity, got[3].Quantity, got[4].Quantity})

	assert.Equal(t, 1.0, got[0].AvgSales7d)
	assert.Equal(t, 1.5, got[1].AvgSales7d)
	assert.Equal(t, 2.0, got[2].AvgSales7d)
	assert.Equal(t, 4.0, got[3].AvgSales7d, "day 10 window excludes days 0-3")
	assert.Equal(t, 100.0, got[4].AvgSales7d, "products never mix")
}

func TestAddRollingFeatures_WindowIsHalfOpen(t *testing.T) {
	base := day(2024, 3, 1)
	rows := []domain.FeatureRow{
		featureRow(1, base, 10),
		featureRow(1, base.AddDate(0, 0, 7), 2),
	}

	got := AddRollingFeatures(rows)
	assert.Equal(t, 2.0, got[1].AvgSales7d)
}

func TestAddRollingFeatures_NoLookahead(t *testing.T) {
	base := day(2024, 3, 1)
	rows := []domain.FeatureRow{
		featureRow(1, base, 1),
		featureRow(1, base, 5),
		featureRow(1, base.AddDate(0, 0, 1), 1000),
	}

	got := AddRollingFeatures(rows)
	assert.Equal(t, 1.0, got[0].AvgSales7d)
	assert.Equal(t, 3.0, got[1].AvgSales7d)
	assert.InDelta(t, (1.0+5+1000)/3, got[2].AvgSales7d, 1e-9)
}

func TestAddRollingFeatures_Growth(t *testing.T) {
	base := day(2024, 1, 1)
	rows := []domain.FeatureRow{
		featureRow(1, base, 10),
		featureRow(1, base.AddDate(0, 0, 40), 2),
	}

	got := AddRollingFeatures(rows)
	assert.Equal(t, 0.0, got[0].SalesGrowth30d)
	// 30d mean = 2, 60d mean = 6
	assert.InDelta(t, 2.0/6.0-1, got[1].SalesGrowth30d, 1e-12)
}

func TestAddRollingFeatures_ZeroBaseIsNeutral(t *testing.T) {
	base := day(2024, 1, 1)
	rows := []domain.FeatureRow{
		featureRow(1, base, 0),
		featureRow(1, base.AddDate(0, 0, 1), 0),
	}

	for _, r := range AddRollingFeatures(rows) {
		assert.Equal(t, 0.0, r.SalesGrowth30d)
		assert.False(t, math.IsNaN(r.AvgSales7d))
	}
}

func TestGrowthRatio(t *testing.T) {
	assert.Equal(t, 0.0, growthRatio(5, 0))
	assert.Equal(t, 0.0, growthRatio(0, 0))
	assert.Equal(t, 1.0, growthRatio(4, 2))
	assert.Equal(t, 0.0, growthRatio(math.Inf(1), 1))
}
