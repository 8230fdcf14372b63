// internal/domain/models.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesRow is a confirmed order line as returned by a data source.
// Nullable columns are pointers so the cleaner can tell NULL from zero.
type SalesRow struct {
	OrderDate *time.Time `json:"order_date" db:"order_date"`
	ProductID *int64     `json:"product_id" db:"product_id"`
	Quantity  *float64   `json:"quantity" db:"quantity"`
	UnitPrice float64    `json:"unit_price" db:"unit_price"`
}

// SalesRecord is a cleaned order line with its calendar date.
type SalesRecord struct {
	Date      time.Time `json:"date"`
	OrderDate time.Time `json:"order_date"`
	ProductID int64     `json:"product_id"`
	Quantity  float64   `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`
}

// InventoryMove is a single stock movement event.
type InventoryMove struct {
	ProductID     int64     `json:"product_id" db:"product_id"`
	MoveDate      time.Time `json:"move_date" db:"move_date"`
	QuantityMoved float64   `json:"quantity_moved" db:"quantity_moved"`
}

// InventoryLevel is a point-in-time on-hand snapshot for a product.
type InventoryLevel struct {
	ProductID      int64     `json:"product_id" db:"product_id"`
	AsOfDate       time.Time `json:"as_of_date" db:"as_of_date"`
	QuantityOnHand float64   `json:"quantity_on_hand" db:"quantity_on_hand"`
}

// Product is a catalog entry with its current available quantity.
type Product struct {
	ID           int64   `json:"id" db:"id"`
	Name         string  `json:"name" db:"name"`
	QtyAvailable float64 `json:"qty_available" db:"qty_available"`
}

// FeatureRow is a sales line enriched with calendar, rolling and inventory features.
// One row exists per cleaned sales line; rows are never merged across products.
type FeatureRow struct {
	ProductID int64     `json:"product_id"`
	Date      time.Time `json:"date"`
	Quantity  float64   `json:"quantity"`
	UnitPrice float64   `json:"unit_price"`

	DayOfWeek  int  `json:"day_of_week"` // Monday = 0
	Month      int  `json:"month"`
	IsMonthEnd bool `json:"is_month_end"`

	AvgSales7d     float64 `json:"avg_sales_7d"`
	SalesGrowth30d float64 `json:"sales_growth_30d"`

	// Nil when no inventory snapshot exists at or before Date.
	QuantityOnHand    *float64 `json:"quantity_on_hand,omitempty"`
	DemandSupplyRatio *float64 `json:"demand_supply_ratio,omitempty"`
}

// HasRatio reports whether the demand/supply ratio is known for this row.
func (r FeatureRow) HasRatio() bool {
	return r.DemandSupplyRatio != nil
}

// PredictionMap maps product id to predicted demand over the forecast horizon.
// It is produced fresh by every run.
type PredictionMap map[int64]float64

// ReorderRule is a replenishment directive keyed by product and warehouse.
type ReorderRule struct {
	ProductID   int64           `json:"product_id" db:"product_id"`
	WarehouseID int64           `json:"warehouse_id" db:"warehouse_id"`
	MinQty      decimal.Decimal `json:"min_qty" db:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty" db:"max_qty"`
}

// DateOf truncates t to its calendar date, expressed as UTC midnight.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
