package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// RunRepository handles database operations for forecast run tracking
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `
	run_id, status, started_at, completed_at, today, lookback_days,
	failed_stage, error_kind, error_message,
	sales_rows, stock_moves, feature_rows, training_rows
`

type outcomeRow struct {
	domain.ProductOutcome
	ActionList pq.StringArray `db:"actions"`
}

// SaveRun upserts the run header and replaces its product outcomes.
func (r *RunRepository) SaveRun(ctx context.Context, report *domain.RunReport) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO forecast_runs (` + runColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (run_id) DO UPDATE SET
				status = EXCLUDED.status,
				completed_at = EXCLUDED.completed_at,
				failed_stage = EXCLUDED.failed_stage,
				error_kind = EXCLUDED.error_kind,
				error_message = EXCLUDED.error_message,
				sales_rows = EXCLUDED.sales_rows,
				stock_moves = EXCLUDED.stock_moves,
				feature_rows = EXCLUDED.feature_rows,
				training_rows = EXCLUDED.training_rows
		`
		_, err := tx.ExecContext(ctx, query,
			report.RunID, report.Status, report.StartedAt, report.CompletedAt, report.Today, report.LookbackDays,
			report.FailedStage, report.ErrorKind, report.ErrorMessage,
			report.SalesRows, report.StockMoves, report.FeatureRows, report.TrainingRows,
		)
		if err != nil {
			return classify("save run", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM forecast_product_outcomes WHERE run_id = $1`, report.RunID); err != nil {
			return classify("clear outcomes", err)
		}
		if len(report.Outcomes) == 0 {
			return nil
		}

		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO forecast_product_outcomes (
				run_id, product_id, status, predicted_demand, current_stock, actions, reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, o := range report.Outcomes {
			actions := make(pq.StringArray, len(o.Actions))
			for i, a := range o.Actions {
				actions[i] = string(a)
			}
			if _, err := stmt.ExecContext(ctx,
				report.RunID, o.ProductID, o.Status, o.PredictedDemand, o.CurrentStock, actions, o.Reason,
			); err != nil {
				return classify("save outcome", err)
			}
		}

		return nil
	})
}

// GetRun retrieves a run by id, or nil when it does not exist.
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	return r.getOne(ctx, `SELECT `+runColumns+` FROM forecast_runs WHERE run_id = $1`, runID)
}

// GetLatestRun retrieves the most recently started run, or nil when there is none.
func (r *RunRepository) GetLatestRun(ctx context.Context) (*domain.RunReport, error) {
	return r.getOne(ctx, `SELECT `+runColumns+` FROM forecast_runs ORDER BY started_at DESC LIMIT 1`)
}

func (r *RunRepository) getOne(ctx context.Context, query string, args ...interface{}) (*domain.RunReport, error) {
	report := &domain.RunReport{}
	err := r.db.GetContext(ctx, report, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get run", err)
	}
	if err := normalizeStatus(report); err != nil {
		return nil, err
	}

	var rows []outcomeRow
	err = r.db.SelectContext(ctx, &rows, `
		SELECT product_id, status, predicted_demand, current_stock, actions, reason
		FROM forecast_product_outcomes
		WHERE run_id = $1
		ORDER BY product_id
	`, report.RunID)
	if err != nil {
		return nil, classify("get outcomes", err)
	}

	report.Predictions = make(domain.PredictionMap)
	for _, row := range rows {
		o := row.ProductOutcome
		for _, a := range row.ActionList {
			o.Actions = append(o.Actions, domain.Action(a))
		}
		if o.PredictedDemand != nil {
			report.Predictions[o.ProductID] = *o.PredictedDemand
		}
		report.Outcomes = append(report.Outcomes, o)
	}

	return report, nil
}

// normalizeStatus rejects a stored status this build does not know.
func normalizeStatus(report *domain.RunReport) error {
	status, ok := domain.ParseRunStatus(string(report.Status))
	if !ok {
		return fmt.Errorf("%w: run %s has unknown status %q", domain.ErrDataUnavailable, report.RunID, report.Status)
	}
	report.Status = status
	return nil
}

var _ repository.RunRepository = (*RunRepository)(nil)
