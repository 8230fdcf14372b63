package domain

import "strings"

// RunStatus is the overall state of a forecast run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// OutcomeStatus is the state of a single product within a run.
type OutcomeStatus string

const (
	OutcomeActed   OutcomeStatus = "acted"
	OutcomeNoop    OutcomeStatus = "noop"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Action is a side effect issued for a product.
type Action string

const (
	ActionReorder     Action = "reorder"
	ActionOpportunity Action = "opportunity"
)

// Stage names a pipeline step, used in errors, logs and spans.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageClean    Stage = "clean"
	StageTemporal Stage = "temporal"
	StageRolling  Stage = "rolling"
	StageJoin     Stage = "inventory_join"
	StageTrain    Stage = "train"
	StagePredict  Stage = "predict"
	StageAct      Stage = "act"
)

var runStatusLabels = map[RunStatus]string{
	RunStatusRunning:   "Running",
	RunStatusCompleted: "Completed",
	RunStatusPartial:   "Completed with failures",
	RunStatusFailed:    "Failed",
}

// RunStatusLabel returns a human-readable label for a run status.
func RunStatusLabel(status RunStatus) string {
	if label, ok := runStatusLabels[status]; ok {
		return label
	}

	return "Unknown"
}

// ParseRunStatus parses a stored status value, ignoring case and surrounding space.
func ParseRunStatus(label string) (RunStatus, bool) {
	s := RunStatus(strings.ToLower(strings.TrimSpace(label)))
	_, ok := runStatusLabels[s]

	return s, ok
}
