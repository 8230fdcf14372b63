package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// InventoryJoiner attaches the latest known stock level to every feature row.
type InventoryJoiner struct {
	source repository.DataSource
}

func NewInventoryJoiner(source repository.DataSource) *InventoryJoiner {
	return &InventoryJoiner{source: source}
}

// Join reads a fresh stock-level snapshot and asof-joins it onto rows.
func (j *InventoryJoiner) Join(ctx context.Context, rows []domain.FeatureRow) ([]domain.FeatureRow, error) {
	levels, err := j.source.ReadStockLevels(ctx)
	if err != nil {
		return nil, unavailable("read stock levels", err)
	}
	return JoinInventory(rows, levels)
}

type levelPoint struct {
	date   time.Time
	onHand float64
}

// JoinInventory performs a backward asof-join by product: each row takes the
// last level with as_of_date <= row date. Rows without a match keep a nil
// quantity and ratio. The result is ordered by date, ties keeping input order.
func JoinInventory(rows []domain.FeatureRow, levels []domain.InventoryLevel) ([]domain.FeatureRow, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no feature rows to join", domain.ErrInsufficientData)
	}

	byProduct := make(map[int64][]levelPoint)
	for _, l := range levels {
		byProduct[l.ProductID] = append(byProduct[l.ProductID], levelPoint{
			date:   domain.DateOf(l.AsOfDate),
			onHand: l.QuantityOnHand,
		})
	}
	for _, pts := range byProduct {
		sort.SliceStable(pts, func(a, b int) bool { return pts[a].date.Before(pts[b].date) })
	}

	out := make([]domain.FeatureRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Date.Before(out[b].Date) })

	known := 0
	for i := range out {
		out[i].QuantityOnHand = nil
		out[i].DemandSupplyRatio = nil

		pts := byProduct[out[i].ProductID]
		k := sort.Search(len(pts), func(k int) bool { return pts[k].date.After(out[i].Date) }) - 1
		if k < 0 {
			continue
		}

		onHand := pts[k].onHand
		ratio := DemandSupplyRatio(out[i].Quantity, onHand)
		out[i].QuantityOnHand = &onHand
		out[i].DemandSupplyRatio = &ratio
		known++
	}

	if known == 0 {
		return nil, fmt.Errorf("%w: no sales row has a stock level at or before its date", domain.ErrInsufficientData)
	}

	return out, nil
}

// DemandSupplyRatio returns quantity / (onHand + Epsilon).
func DemandSupplyRatio(quantity, onHand float64) float64 {
	denom := onHand + Epsilon
	if denom == 0 {
		denom = Epsilon
	}
	return quantity / denom
}
