package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable means the data source could not be reached or returned malformed rows.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientData means a stage was left with no usable rows.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrTrainingFailed means the feature matrix could not produce a model.
	ErrTrainingFailed = errors.New("training failed")
	// ErrActionWriteFailed means the write sink rejected a directive.
	ErrActionWriteFailed = errors.New("action write failed")
	// ErrRunInProgress means another run holds the run lock.
	ErrRunInProgress = errors.New("forecast run already in progress")
	// ErrInternal marks unexpected failures, including recovered panics.
	ErrInternal = errors.New("internal error")
)

// StageError attaches the failing pipeline stage to an error.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage, returning nil for a nil err.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// ErrorKind maps an error to the name of its sentinel kind.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDataUnavailable):
		return "DataUnavailable"
	case errors.Is(err, ErrInsufficientData):
		return "InsufficientData"
	case errors.Is(err, ErrTrainingFailed):
		return "TrainingFailed"
	case errors.Is(err, ErrActionWriteFailed):
		return "ActionWriteFailed"
	case errors.Is(err, ErrRunInProgress):
		return "RunInProgress"
	case errors.Is(err, ErrInternal):
		return "Internal"
	default:
		return "Internal"
	}
}

// StageOf returns the stage recorded on err, if any.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
