package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// Sink writes reorder rules, product notes and tags.
type Sink struct {
	db *DB
}

func NewSink(db *DB) *Sink {
	return &Sink{db: db}
}

// ResolveWarehouse returns the first warehouse by id.
func (s *Sink) ResolveWarehouse(ctx context.Context) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, `SELECT id FROM warehouses ORDER BY id LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("no warehouse configured")
	}
	if err != nil {
		return 0, classify("resolve warehouse", err)
	}
	return id, nil
}

// GetOrCreateTag returns the id of the named tag, creating it when missing.
func (s *Sink) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	var id int64
	query := `
		INSERT INTO product_tags (name, created_at)
		VALUES ($1, NOW())
		ON CONFLICT (name) DO UPDATE
		SET name = EXCLUDED.name
		RETURNING id
	`
	if err := s.db.QueryRowxContext(ctx, query, name).Scan(&id); err != nil {
		return 0, classify("get or create tag", err)
	}
	return id, nil
}

func (s *Sink) UpsertReorderRule(ctx context.Context, rule domain.ReorderRule) error {
	return s.WithTx(ctx, func(w repository.ActionWriter) error {
		return w.UpsertReorderRule(ctx, rule)
	})
}

func (s *Sink) PostNote(ctx context.Context, productID int64, body string) error {
	return s.WithTx(ctx, func(w repository.ActionWriter) error {
		return w.PostNote(ctx, productID, body)
	})
}

func (s *Sink) AddTag(ctx context.Context, productID, tagID int64) error {
	return s.WithTx(ctx, func(w repository.ActionWriter) error {
		return w.AddTag(ctx, productID, tagID)
	})
}

// WithTx runs fn with a writer bound to a single transaction.
func (s *Sink) WithTx(ctx context.Context, fn func(w repository.ActionWriter) error) error {
	return s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&txWriter{tx: tx})
	})
}

type txWriter struct {
	tx *sqlx.Tx
}

func (w *txWriter) UpsertReorderRule(ctx context.Context, rule domain.ReorderRule) error {
	query := `
		INSERT INTO reorder_rules (
			product_id, warehouse_id, product_min_qty, product_max_qty, created_at, updated_at
		) VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (product_id, warehouse_id)
		DO UPDATE SET
			product_min_qty = EXCLUDED.product_min_qty,
			product_max_qty = EXCLUDED.product_max_qty,
			updated_at = NOW()
	`
	_, err := w.tx.ExecContext(ctx, query, rule.ProductID, rule.WarehouseID, rule.MinQty, rule.MaxQty)
	return classify("upsert reorder rule", err)
}

func (w *txWriter) PostNote(ctx context.Context, productID int64, body string) error {
	query := `
		INSERT INTO product_messages (product_id, body, created_at)
		VALUES ($1, $2, NOW())
	`
	_, err := w.tx.ExecContext(ctx, query, productID, body)
	return classify("post note", err)
}

func (w *txWriter) AddTag(ctx context.Context, productID, tagID int64) error {
	query := `
		INSERT INTO product_tag_rel (product_id, tag_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	_, err := w.tx.ExecContext(ctx, query, productID, tagID)
	return classify("add tag", err)
}

var _ repository.ActionSink = (*Sink)(nil)
