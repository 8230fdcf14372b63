package postgres

import (
	"context"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

const (
	salesQuery = `
		SELECT so.date_order          AS order_date,
		       sol.product_id         AS product_id,
		       sol.product_uom_qty    AS quantity,
		       COALESCE(sol.price_unit, 0) AS unit_price
		FROM sale_order_lines sol
		JOIN sale_orders so ON so.id = sol.order_id
		WHERE so.state = 'sale'
		ORDER BY so.date_order, sol.id
	`

	stockMovesQuery = `
		SELECT product_id,
		       date AS move_date,
		       COALESCE(quantity_done, 0) AS quantity_moved
		FROM stock_moves
		WHERE product_id IS NOT NULL AND date IS NOT NULL
		ORDER BY date, id
	`

	stockLevelsQuery = `
		SELECT product_id,
		       date AS as_of_date,
		       COALESCE(quantity, 0) AS quantity_on_hand
		FROM stock_quants
		WHERE product_id IS NOT NULL AND date IS NOT NULL
		ORDER BY date, id
	`

	productsQuery = `
		SELECT id, COALESCE(name, '') AS name, COALESCE(qty_available, 0) AS qty_available
		FROM products
		WHERE active
		ORDER BY id
	`
)

// Source reads sales, stock and catalog data from the business database.
type Source struct {
	db *DB
}

func NewSource(db *DB) *Source {
	return &Source{db: db}
}

// ReadSales returns lines of confirmed orders only.
func (s *Source) ReadSales(ctx context.Context) ([]domain.SalesRow, error) {
	var rows []domain.SalesRow
	if err := s.db.SelectContext(ctx, &rows, salesQuery); err != nil {
		return nil, classify("read sales", err)
	}
	return rows, nil
}

func (s *Source) ReadStockMoves(ctx context.Context) ([]domain.InventoryMove, error) {
	var rows []domain.InventoryMove
	if err := s.db.SelectContext(ctx, &rows, stockMovesQuery); err != nil {
		return nil, classify("read stock moves", err)
	}
	return rows, nil
}

func (s *Source) ReadStockLevels(ctx context.Context) ([]domain.InventoryLevel, error) {
	var rows []domain.InventoryLevel
	if err := s.db.SelectContext(ctx, &rows, stockLevelsQuery); err != nil {
		return nil, classify("read stock levels", err)
	}
	return rows, nil
}

func (s *Source) ReadProducts(ctx context.Context) ([]domain.Product, error) {
	var rows []domain.Product
	if err := s.db.SelectContext(ctx, &rows, productsQuery); err != nil {
		return nil, classify("read products", err)
	}
	return rows, nil
}

var _ repository.DataSource = (*Source)(nil)
