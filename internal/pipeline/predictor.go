package pipeline

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

const (
	reasonNoHistory = "no sales history in lookback window"
	reasonNoRatio   = "no stock level known for any recent sale"
)

// Predictor produces one demand estimate per catalog product.
type Predictor struct {
	model   Model
	workers int
}

func NewPredictor(model Model, workers int) *Predictor {
	if workers < 1 {
		workers = 1
	}
	return &Predictor{model: model, workers: workers}
}

// Prediction is the result of Predict: the map plus the products it had to skip.
type Prediction struct {
	Values  domain.PredictionMap
	Skipped []domain.ProductOutcome
}

// snapshot is the feature row a product is predicted from.
type snapshot struct {
	latest    *domain.FeatureRow
	withRatio *domain.FeatureRow
}

// latestSnapshots returns, per product, the most recent row and the most
// recent row with a known ratio. Ties on date go to the later row.
func latestSnapshots(rows []domain.FeatureRow) map[int64]snapshot {
	out := make(map[int64]snapshot)
	for i := range rows {
		r := &rows[i]
		s := out[r.ProductID]
		if s.latest == nil || !r.Date.Before(s.latest.Date) {
			s.latest = r
		}
		if r.HasRatio() && (s.withRatio == nil || !r.Date.Before(s.withRatio.Date)) {
			s.withRatio = r
		}
		out[r.ProductID] = s
	}
	return out
}

// Predict builds a vector from today's calendar fields and each product's last
// known rolling features. Products without a usable row are skipped.
func (p *Predictor) Predict(ctx context.Context, rows []domain.FeatureRow, products []domain.Product, today time.Time) (*Prediction, error) {
	snaps := latestSnapshots(rows)
	day := domain.DateOf(today)
	dow, month := DayOfWeek(day), int(day.Month())

	result := &Prediction{Values: make(domain.PredictionMap)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, product := range products {
		product := product
		snap, ok := snaps[product.ID]

		if !ok || snap.withRatio == nil {
			reason := reasonNoHistory
			if ok {
				reason = reasonNoRatio
			}
			log.Warn().Int64("product_id", product.ID).Str("reason", reason).Msg("skipping product prediction")
			result.Skipped = append(result.Skipped, domain.ProductOutcome{
				ProductID:    product.ID,
				Status:       domain.OutcomeSkipped,
				CurrentStock: product.QtyAvailable,
				Reason:       reason,
			})
			continue
		}

		row := snap.withRatio
		if snap.latest != row {
			log.Debug().
				Int64("product_id", product.ID).
				Time("latest", snap.latest.Date).
				Time("used", row.Date).
				Msg("latest row has no stock level, using last known ratio")
		}
		g.Go(func() (err error) {
			defer recoverInto(&err)
			if err := ctx.Err(); err != nil {
				return err
			}
			x := FeatureVector(dow, month, row.AvgSales7d, *row.DemandSupplyRatio)
			v := clampDemand(p.model.Predict(x))

			mu.Lock()
			result.Values[product.ID] = v
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}

func clampDemand(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
