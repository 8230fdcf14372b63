package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forest"
)

// FeatureNames lists the model inputs in vector order.
var FeatureNames = []string{"day_of_week", "month", "avg_sales_7d", "demand_supply_ratio"}

// Model is a trained regressor.
type Model interface {
	Predict(x []float64) float64
}

// FeatureVector builds the model input for one observation.
func FeatureVector(dayOfWeek, month int, avgSales7d, ratio float64) []float64 {
	return []float64{float64(dayOfWeek), float64(month), avgSales7d, ratio}
}

// TrainingMatrix selects rows with a known demand/supply ratio.
func TrainingMatrix(rows []domain.FeatureRow) ([][]float64, []float64) {
	X := make([][]float64, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for _, r := range rows {
		if !r.HasRatio() {
			continue
		}
		X = append(X, FeatureVector(r.DayOfWeek, r.Month, r.AvgSales7d, *r.DemandSupplyRatio))
		y = append(y, r.Quantity)
	}
	return X, y
}

// Trainer fits the demand forest.
type Trainer struct {
	cfg forest.Config
}

func NewTrainer(cfg forest.Config) *Trainer {
	return &Trainer{cfg: cfg}
}

// Train fits a forest on rows and returns it with the number of training rows used.
func (t *Trainer) Train(ctx context.Context, rows []domain.FeatureRow) (Model, int, error) {
	X, y := TrainingMatrix(rows)
	if len(X) == 0 {
		return nil, 0, fmt.Errorf("%w: empty feature matrix", domain.ErrTrainingFailed)
	}
	if allZero(y) {
		return nil, len(X), fmt.Errorf("%w: all %d targets are zero", domain.ErrTrainingFailed, len(y))
	}

	model, err := forest.Fit(ctx, X, y, t.cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, len(X), err
		}
		return nil, len(X), fmt.Errorf("%w: %w", domain.ErrTrainingFailed, err)
	}

	return model, len(X), nil
}

func allZero(y []float64) bool {
	for _, v := range y {
		if v != 0 {
			return false
		}
	}
	return true
}
