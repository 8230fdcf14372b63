package domain

import (
	"fmt"
	"sort"
	"time"
)

// ProductOutcome is what happened to a single product during a run.
type ProductOutcome struct {
	ProductID       int64         `json:"product_id" db:"product_id"`
	Status          OutcomeStatus `json:"status" db:"status"`
	PredictedDemand *float64      `json:"predicted_demand,omitempty" db:"predicted_demand"`
	CurrentStock    float64       `json:"current_stock" db:"current_stock"`
	Actions         []Action      `json:"actions,omitempty" db:"-"`
	Reason          string        `json:"reason,omitempty" db:"reason"`
}

// RunReport is the typed result of a forecast run.
type RunReport struct {
	RunID        string           `json:"run_id" db:"run_id"`
	Status       RunStatus        `json:"status" db:"status"`
	StartedAt    time.Time        `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	Today        time.Time        `json:"today" db:"today"`
	LookbackDays int              `json:"lookback_days" db:"lookback_days"`
	FailedStage  Stage            `json:"failed_stage,omitempty" db:"failed_stage"`
	ErrorKind    string           `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string           `json:"error_message,omitempty" db:"error_message"`
	SalesRows    int              `json:"sales_rows" db:"sales_rows"`
	StockMoves   int              `json:"stock_moves" db:"stock_moves"`
	FeatureRows  int              `json:"feature_rows" db:"feature_rows"`
	TrainingRows int              `json:"training_rows" db:"training_rows"`
	Predictions  PredictionMap    `json:"predictions,omitempty" db:"-"`
	Outcomes     []ProductOutcome `json:"outcomes,omitempty" db:"-"`
}

// Fail marks the report as failed with err.
func (r *RunReport) Fail(err error) {
	r.Status = RunStatusFailed
	r.ErrorKind = ErrorKind(err)
	r.ErrorMessage = err.Error()
	if stage, ok := StageOf(err); ok {
		r.FailedStage = stage
	}
}

// Finish derives the final status from the product outcomes and stamps the completion time.
func (r *RunReport) Finish(now time.Time) {
	r.CompletedAt = &now
	if r.Status == RunStatusFailed {
		return
	}
	r.Status = RunStatusCompleted
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			r.Status = RunStatusPartial
			break
		}
	}
}

// SortOutcomes orders outcomes by product id for stable output.
func (r *RunReport) SortOutcomes() {
	sort.Slice(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].ProductID < r.Outcomes[j].ProductID
	})
}

// Count returns how many outcomes have the given status.
func (r *RunReport) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ActionCount returns how many outcomes include the given action.
func (r *RunReport) ActionCount(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		for _, a := range o.Actions {
			if a == action {
				n++
				break
			}
		}
	}
	return n
}

// Message renders the report as a single status line.
func (r *RunReport) Message() string {
	switch r.Status {
	case RunStatusFailed:
		if r.FailedStage != "" {
			return fmt.Sprintf("Error: %s failed at %s: %s", r.ErrorKind, r.FailedStage, r.ErrorMessage)
		}
		return fmt.Sprintf("Error: %s: %s", r.ErrorKind, r.ErrorMessage)
	case RunStatusCompleted, RunStatusPartial:
		return fmt.Sprintf(
			"Predictions and automations completed (%s): %d predicted, %d reorder rules, %d opportunities, %d skipped, %d failed",
			RunStatusLabel(r.Status),
			len(r.Predictions),
			r.ActionCount(ActionReorder),
			r.ActionCount(ActionOpportunity),
			r.Count(OutcomeSkipped),
			r.Count(OutcomeFailed),
		)
	default:
		return RunStatusLabel(r.Status)
	}
}
