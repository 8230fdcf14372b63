package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

// FeatureHeader is the column order of exported feature snapshots.
var FeatureHeader = []string{
	"product_id", "date", "quantity", "unit_price",
	"day_of_week", "month", "is_month_end",
	"avg_sales_7d", "sales_growth_30d",
	"quantity_on_hand", "demand_supply_ratio",
}

// FeatureExporter writes the joined feature table of a run to CSV and
// optionally uploads it to object storage.
type FeatureExporter struct {
	outputDir string
	store     storage.ObjectStorage
	prefix    string
}

// NewFeatureExporter creates an exporter. store may be nil for local-only exports.
func NewFeatureExporter(outputDir string, store storage.ObjectStorage, prefix string) *FeatureExporter {
	return &FeatureExporter{outputDir: outputDir, store: store, prefix: prefix}
}

// Export writes rows to <outputDir>/<today>_<runID>.csv and returns the local path.
func (fe *FeatureExporter) Export(ctx context.Context, runID string, today time.Time, rows []domain.FeatureRow) (string, error) {
	var buf bytes.Buffer
	if err := WriteFeatureCSV(&buf, rows); err != nil {
		return "", fmt.Errorf("failed to encode features: %w", err)
	}

	name := fmt.Sprintf("%s_%s.csv", today.Format("20060102"), runID)

	if err := os.MkdirAll(fe.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	csvPath := filepath.Join(fe.outputDir, name)
	if err := os.WriteFile(csvPath, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write CSV: %w", err)
	}

	log.Info().Str("run_id", runID).Int("rows", len(rows)).Str("path", csvPath).Msg("exported feature snapshot")

	if fe.store != nil {
		key := storage.JoinKey(fe.prefix, "features", name)
		if err := fe.store.UploadObject(ctx, key, buf.Bytes()); err != nil {
			return csvPath, fmt.Errorf("failed to upload %s: %w", key, err)
		}
		log.Info().Str("run_id", runID).Str("key", key).Msg("uploaded feature snapshot")
	}

	return csvPath, nil
}

// WriteFeatureCSV encodes rows with FeatureHeader. Unknown inventory values are empty cells.
func WriteFeatureCSV(w io.Writer, rows []domain.FeatureRow) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(FeatureHeader); err != nil {
		return err
	}

	for _, r := range rows {
		record := []string{
			strconv.FormatInt(r.ProductID, 10),
			r.Date.Format("2006-01-02"),
			formatFloat(r.Quantity),
			formatFloat(r.UnitPrice),
			strconv.Itoa(r.DayOfWeek),
			strconv.Itoa(r.Month),
			strconv.FormatBool(r.IsMonthEnd),
			formatFloat(r.AvgSales7d),
			formatFloat(r.SalesGrowth30d),
			formatOptional(r.QuantityOnHand),
			formatOptional(r.DemandSupplyRatio),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
