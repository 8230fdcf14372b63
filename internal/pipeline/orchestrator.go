package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/metrics"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/pkg/tracing"
)

// Exporter persists the feature table of a run.
type Exporter interface {
	Export(ctx context.Context, runID string, today time.Time, rows []domain.FeatureRow) (string, error)
}

var (
	ErrSourceRequired = errors.New("pipeline: data source is required")
	ErrSinkRequired   = errors.New("pipeline: action sink is required unless dry run is enabled")
)

// Dependencies are the collaborators of an Orchestrator. Only Source is
// required; Sink may be nil when actions run in dry-run mode.
type Dependencies struct {
	Source    repository.DataSource
	Sink      repository.ActionSink
	Runs      repository.RunRepository
	Exporter  Exporter
	Publisher EventPublisher
	Now       func() time.Time
}

// Orchestrator runs the forecast pipeline end to end:
// extract, clean, featurize, join, train, predict and act.
type Orchestrator struct {
	deps      Dependencies
	cfg       Config
	extractor *Extractor
	joiner    *InventoryJoiner
	trainer   *Trainer
}

// NewOrchestrator creates a new Orchestrator. Optional dependencies holding a
// nil pointer are treated as absent.
func NewOrchestrator(deps Dependencies, cfg Config) (*Orchestrator, error) {
	if isNil(deps.Source) {
		return nil, ErrSourceRequired
	}
	if isNil(deps.Sink) {
		deps.Sink = nil
	}
	if isNil(deps.Runs) {
		deps.Runs = nil
	}
	if isNil(deps.Exporter) {
		deps.Exporter = nil
	}
	if isNil(deps.Publisher) {
		deps.Publisher = nil
	}
	if deps.Sink == nil && !cfg.Actions.DryRun {
		return nil, ErrSinkRequired
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultLookbackDays
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = DefaultHorizonDays
	}

	return &Orchestrator{
		deps:      deps,
		cfg:       cfg,
		extractor: NewExtractor(deps.Source),
		joiner:    NewInventoryJoiner(deps.Source),
		trainer:   NewTrainer(cfg.Forest),
	}, nil
}

// Run executes one forecast run under a fresh run id.
func (o *Orchestrator) Run(ctx context.Context) (*domain.RunReport, error) {
	return o.RunWithID(ctx, uuid.NewString())
}

// RunWithID executes one forecast run. The returned report is never nil; it
// carries the failed stage when err is non-nil and per-product outcomes otherwise.
// Panics are recovered into a failed report of kind Internal.
func (o *Orchestrator) RunWithID(ctx context.Context, runID string) (report *domain.RunReport, err error) {
	start := time.Now()
	now := o.deps.Now()
	today := domain.DateOf(now)

	report = &domain.RunReport{
		RunID:        runID,
		Status:       domain.RunStatusRunning,
		StartedAt:    now.UTC(),
		Today:        today,
		LookbackDays: o.cfg.LookbackDays,
	}

	ctx, span := tracing.StartSpan(ctx, "forecast.run",
		attribute.String("run_id", runID),
		attribute.String("today", today.Format("2006-01-02")),
	)
	logger := log.With().Str("run_id", runID).Logger()
	logger.Info().Time("today", today).Int("lookback_days", o.cfg.LookbackDays).Msg("forecast run started")

	defer func() {
		if r := recover(); r != nil {
			err = recovered(r)
			report.Fail(err)
			report.Finish(time.Now().UTC())
			o.save(ctx, report)
			tracing.EndSpan(span, err)
			logger.Error().Err(err).Msg("forecast run aborted")
		}
	}()

	o.save(ctx, report)

	err = o.execute(ctx, report, today)
	if err != nil {
		report.Fail(err)
	}
	report.SortOutcomes()
	report.Finish(o.deps.Now().UTC())

	o.save(ctx, report)
	metrics.ObserveRun(report, time.Since(start))
	tracing.EndSpan(span, err)

	if err != nil {
		logger.Error().Err(err).Str("stage", string(report.FailedStage)).Str("kind", report.ErrorKind).Msg("forecast run failed")
	} else {
		logger.Info().
			Str("status", string(report.Status)).
			Int("predicted", len(report.Predictions)).
			Int("acted", report.Count(domain.OutcomeActed)).
			Int("skipped", report.Count(domain.OutcomeSkipped)).
			Int("failed", report.Count(domain.OutcomeFailed)).
			Dur("duration", time.Since(start)).
			Msg("forecast run finished")
	}

	return report, err
}

// GenerateAndActOnPredictions runs the pipeline and renders the outcome as a
// status line. It never fails; use Run for the typed report.
func (o *Orchestrator) GenerateAndActOnPredictions(ctx context.Context) string {
	report, _ := o.Run(ctx)
	return report.Message()
}

// PrepareTrainingData runs extraction through the inventory join and returns
// the feature table without training or acting.
func (o *Orchestrator) PrepareTrainingData(ctx context.Context, lookbackDays int) ([]domain.FeatureRow, error) {
	report := &domain.RunReport{}
	return o.prepare(ctx, report, domain.DateOf(o.deps.Now()), lookbackDays)
}

func (o *Orchestrator) execute(ctx context.Context, report *domain.RunReport, today time.Time) error {
	rows, err := o.prepare(ctx, report, today, o.cfg.LookbackDays)
	if err != nil {
		return err
	}

	o.export(ctx, report.RunID, today, rows)

	var model Model
	err = o.stage(ctx, domain.StageTrain, func(ctx context.Context) error {
		var err error
		model, report.TrainingRows, err = o.trainer.Train(ctx, rows)
		return err
	})
	if err != nil {
		return err
	}

	var (
		products   []domain.Product
		prediction *Prediction
	)
	err = o.stage(ctx, domain.StagePredict, func(ctx context.Context) error {
		var err error
		if products, err = o.deps.Source.ReadProducts(ctx); err != nil {
			return unavailable("read products", err)
		}
		prediction, err = NewPredictor(model, o.cfg.workers()).Predict(ctx, rows, products, today)
		return err
	})
	if err != nil {
		return err
	}
	report.Predictions = prediction.Values
	report.Outcomes = append(report.Outcomes, prediction.Skipped...)

	return o.stage(ctx, domain.StageAct, func(ctx context.Context) error {
		engine := NewActionEngine(o.deps.Sink, o.cfg.Actions, o.cfg.workers(), o.deps.Publisher, o.deps.Now)
		outcomes := engine.Apply(ctx, report.RunID, prediction.Values, products)
		report.Outcomes = append(report.Outcomes, outcomes...)

		if !o.cfg.Actions.DryRun {
			for _, outcome := range outcomes {
				for _, action := range outcome.Actions {
					metrics.ActionsTotal.WithLabelValues(string(action)).Inc()
				}
			}
		}
		return ctx.Err()
	})
}

// prepare runs the feature stages and records row counts on report.
func (o *Orchestrator) prepare(ctx context.Context, report *domain.RunReport, today time.Time, lookbackDays int) ([]domain.FeatureRow, error) {
	var raw *RawData
	err := o.stage(ctx, domain.StageExtract, func(ctx context.Context) error {
		var err error
		if raw, err = o.extractor.Extract(ctx); err != nil {
			return err
		}
		report.SalesRows = len(raw.Sales)
		report.StockMoves = len(raw.Moves)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var cleaned []domain.SalesRecord
	err = o.stage(ctx, domain.StageClean, func(ctx context.Context) error {
		var err error
		cleaned, err = Clean(raw.Sales, today, lookbackDays)
		return err
	})
	if err != nil {
		return nil, err
	}

	var rows []domain.FeatureRow
	_ = o.stage(ctx, domain.StageTemporal, func(ctx context.Context) error {
		rows = AddTemporalFeatures(cleaned)
		return nil
	})
	_ = o.stage(ctx, domain.StageRolling, func(ctx context.Context) error {
		rows = AddRollingFeatures(rows)
		return nil
	})

	err = o.stage(ctx, domain.StageJoin, func(ctx context.Context) error {
		var err error
		if rows, err = o.joiner.Join(ctx, rows); err != nil {
			return err
		}
		report.FeatureRows = len(rows)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rows, nil
}

// stage runs fn inside a span, records its latency and tags failures with the stage.
func (o *Orchestrator) stage(ctx context.Context, stage domain.Stage, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return domain.NewStageError(stage, err)
	}

	ctx, span := tracing.StartSpan(ctx, "forecast."+string(stage))
	start := time.Now()
	err := guard(ctx, fn)
	elapsed := time.Since(start)

	metrics.ObserveStage(stage, elapsed, err)
	tracing.EndSpan(span, err)

	log.Debug().Str("stage", string(stage)).Dur("duration", elapsed).Err(err).Msg("stage finished")
	return domain.NewStageError(stage, err)
}

func (o *Orchestrator) export(ctx context.Context, runID string, today time.Time, rows []domain.FeatureRow) {
	if o.deps.Exporter == nil {
		return
	}
	if _, err := o.deps.Exporter.Export(ctx, runID, today, rows); err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("feature export failed")
	}
}

// save persists the report on a context that survives cancellation of the run.
func (o *Orchestrator) save(ctx context.Context, report *domain.RunReport) {
	if o.deps.Runs == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Err(recovered(r)).Str("run_id", report.RunID).Msg("failed to save run report")
		}
	}()
	if err := o.deps.Runs.SaveRun(context.WithoutCancel(ctx), report); err != nil {
		log.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to save run report")
	}
}

// guard runs fn and turns a panic into an ErrInternal error.
func guard(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer recoverInto(&err)
	return fn(ctx)
}

// recoverInto must be deferred directly.
func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = recovered(r)
	}
}

func recovered(r any) error {
	log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("recovered from panic")
	return fmt.Errorf("%w: panic: %v", domain.ErrInternal, r)
}

// isNil reports whether v is nil or an interface wrapping a nil pointer.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
