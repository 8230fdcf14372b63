package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ActionEvent is published after a product's writes have been committed.
type ActionEvent struct {
	RunID           string           `json:"run_id"`
	ProductID       int64            `json:"product_id"`
	Actions         []Action         `json:"actions"`
	PredictedDemand float64          `json:"predicted_demand"`
	CurrentStock    float64          `json:"current_stock"`
	MinQty          *decimal.Decimal `json:"min_qty,omitempty"`
	MaxQty          *decimal.Decimal `json:"max_qty,omitempty"`
	DryRun          bool             `json:"dry_run"`
	OccurredAt      time.Time        `json:"occurred_at"`
}

// Key partitions events by product.
func (e ActionEvent) Key() string {
	return strconv.FormatInt(e.ProductID, 10)
}
