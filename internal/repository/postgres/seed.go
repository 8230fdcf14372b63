package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// SeedStats counts the rows written by Seed.
type SeedStats struct {
	Products    int
	Sales       int
	StockMoves  int
	StockLevels int
}

// Seed loads every row of src into the business tables in one transaction.
// Products are upserted by id; sales, moves and levels are appended, so
// seeding the same export twice duplicates history. Sales rows missing a
// date, product or quantity are kept as-is for the cleaner to drop.
func Seed(ctx context.Context, db *DB, src repository.DataSource) (SeedStats, error) {
	var stats SeedStats

	products, err := src.ReadProducts(ctx)
	if err != nil {
		return stats, err
	}
	sales, err := src.ReadSales(ctx)
	if err != nil {
		return stats, err
	}
	moves, err := src.ReadStockMoves(ctx)
	if err != nil {
		return stats, err
	}
	levels, err := src.ReadStockLevels(ctx)
	if err != nil {
		return stats, err
	}

	err = db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range products {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO products (id, name, qty_available)
				VALUES ($1, $2, $3)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, qty_available = EXCLUDED.qty_available
			`, p.ID, p.Name, p.QtyAvailable); err != nil {
				return fmt.Errorf("seed product %d: %w", p.ID, err)
			}
		}
		if len(products) > 0 {
			if _, err := tx.ExecContext(ctx, `SELECT setval(pg_get_serial_sequence('products', 'id'), (SELECT MAX(id) FROM products))`); err != nil {
				return fmt.Errorf("advance products sequence: %w", err)
			}
		}
		stats.Products = len(products)

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO warehouses (name) SELECT 'Main' WHERE NOT EXISTS (SELECT 1 FROM warehouses)
		`); err != nil {
			return fmt.Errorf("seed warehouse: %w", err)
		}

		for _, s := range sales {
			if _, err := tx.ExecContext(ctx, `
				WITH o AS (
					INSERT INTO sale_orders (date_order, state) VALUES ($1, 'sale') RETURNING id
				)
				INSERT INTO sale_order_lines (order_id, product_id, product_uom_qty, price_unit)
				SELECT o.id, $2, $3, $4 FROM o
			`, s.OrderDate, s.ProductID, s.Quantity, s.UnitPrice); err != nil {
				return fmt.Errorf("seed sale: %w", err)
			}
		}
		stats.Sales = len(sales)

		for _, m := range moves {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stock_moves (product_id, date, quantity_done) VALUES ($1, $2, $3)
			`, m.ProductID, m.MoveDate, m.QuantityMoved); err != nil {
				return fmt.Errorf("seed stock move: %w", err)
			}
		}
		stats.StockMoves = len(moves)

		for _, l := range levels {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stock_quants (product_id, date, quantity) VALUES ($1, $2, $3)
			`, l.ProductID, l.AsOfDate, l.QuantityOnHand); err != nil {
				return fmt.Errorf("seed stock level: %w", err)
			}
		}
		stats.StockLevels = len(levels)

		return nil
	})
	if err != nil {
		return SeedStats{}, classify("seed", err)
	}

	log.Info().
		Int("products", stats.Products).
		Int("sales", stats.Sales).
		Int("stock_moves", stats.StockMoves).
		Int("stock_levels", stats.StockLevels).
		Msg("seed complete")

	return stats, nil
}

