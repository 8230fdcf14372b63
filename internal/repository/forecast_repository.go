// internal/repository/forecast_repository.go
package repository

import (
	"context"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
)

// DataSource is the read contract against the business database.
type DataSource interface {
	// ReadSales returns confirmed order lines only.
	ReadSales(ctx context.Context) ([]domain.SalesRow, error)
	ReadStockMoves(ctx context.Context) ([]domain.InventoryMove, error)
	ReadStockLevels(ctx context.Context) ([]domain.InventoryLevel, error)
	ReadProducts(ctx context.Context) ([]domain.Product, error)
}

// ActionWriter issues the per-product side effects of a forecast.
type ActionWriter interface {
	// UpsertReorderRule creates or replaces the rule for (product, warehouse).
	UpsertReorderRule(ctx context.Context, rule domain.ReorderRule) error
	PostNote(ctx context.Context, productID int64, body string) error
	// AddTag links a tag to a product; linking twice is a no-op.
	AddTag(ctx context.Context, productID, tagID int64) error
}

// ActionSink is the write contract against the business database.
type ActionSink interface {
	ActionWriter

	// ResolveWarehouse returns the default warehouse used for reorder rules.
	ResolveWarehouse(ctx context.Context) (int64, error)
	GetOrCreateTag(ctx context.Context, name string) (int64, error)

	// WithTx runs fn in a single transaction; any error rolls back every write made through w.
	WithTx(ctx context.Context, fn func(w ActionWriter) error) error
}

// RunRepository persists forecast run reports.
type RunRepository interface {
	SaveRun(ctx context.Context, report *domain.RunReport) error
	GetRun(ctx context.Context, runID string) (*domain.RunReport, error)
	GetLatestRun(ctx context.Context) (*domain.RunReport, error)
}
