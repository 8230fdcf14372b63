package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

type fakeStore struct {
	uploads map[string][]byte
	err     error
}

func (f *fakeStore) ListObjects(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (f *fakeStore) DownloadObject(ctx context.Context, key, destPath string) error {
	return nil
}

func (f *fakeStore) UploadObject(ctx context.Context, key string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[key] = data
	return nil
}

func TestWriteFeatureCSV(t *testing.T) {
	rows := []domain.FeatureRow{
		{ProductID: 1, Date: day(2024, 1, 31), Quantity: 2, UnitPrice: 1.25, DayOfWeek: 2, Month: 1, IsMonthEnd: true,
			AvgSales7d: 2, SalesGrowth30d: -0.5, QuantityOnHand: f64(4), DemandSupplyRatio: f64(0.5)},
		{ProductID: 2, Date: day(2024, 2, 1), Quantity: 1, DayOfWeek: 3, Month: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFeatureCSV(&buf, rows))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, FeatureHeader, records[0])
	assert.Equal(t, []string{"1", "2024-01-31", "2", "1.25", "2", "1", "true", "2", "-0.5", "4", "0.5"}, records[1])
	assert.Equal(t, "", records[2][9])
	assert.Equal(t, "", records[2][10])
}

func TestFeatureExporter_Uploads(t *testing.T) {
	store := &fakeStore{}
	fe := NewFeatureExporter(t.TempDir(), store, "forecast")

	path, err := fe.Export(context.Background(), "r1", day(2024, 6, 1), []domain.FeatureRow{{ProductID: 1, Date: day(2024, 5, 1)}})
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, store.uploads, "forecast/features/20240601_r1.csv")
}

func TestFeatureExporter_UploadError(t *testing.T) {
	fe := NewFeatureExporter(t.TempDir(), &fakeStore{err: errors.New("denied")}, "")

	path, err := fe.Export(context.Background(), "r1", day(2024, 6, 1), nil)
	assert.Error(t, err)
	assert.FileExists(t, path)
}
