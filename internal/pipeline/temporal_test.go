package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

func TestDayOfWeek_MondayIsZero(t *testing.T) {
	assert.Equal(t, 0, DayOfWeek(day(2024, 6, 3))) // Monday
	assert.Equal(t, 5, DayOfWeek(day(2024, 6, 1))) // Saturday
	assert.Equal(t, 6, DayOfWeek(day(2024, 6, 2))) // Sunday
}

func TestIsMonthEnd(t *testing.T) {
	assert.True(t, IsMonthEnd(day(2024, 2, 29)))
	assert.False(t, IsMonthEnd(day(2023, 2, 28).AddDate(0, 0, -1)))
	assert.True(t, IsMonthEnd(day(2023, 2, 28)))
	assert.True(t, IsMonthEnd(day(2024, 12, 31)))
	assert.False(t, IsMonthEnd(day(2024, 12, 30)))
}

func TestAddTemporalFeatures(t *testing.T) {
	records := []domain.SalesRecord{
		{Date: day(2024, 1, 31), ProductID: 4, Quantity: 3, UnitPrice: 1.5},
		{Date: day(2024, 7, 10), ProductID: 2, Quantity: 1},
	}

	rows := AddTemporalFeatures(records)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(4), rows[0].ProductID)
	assert.Equal(t, 2, rows[0].DayOfWeek) // Wednesday
	assert.Equal(t, 1, rows[0].Month)
	assert.True(t, rows[0].IsMonthEnd)
	assert.Equal(t, 1.5, rows[0].UnitPrice)

	assert.Equal(t, int(time.July), rows[1].Month)
	assert.False(t, rows[1].IsMonthEnd)
	assert.Nil(t, rows[1].DemandSupplyRatio)
}
