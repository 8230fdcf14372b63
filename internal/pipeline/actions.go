package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// ActionConfig holds the thresholds and write settings of the action engine.
type ActionConfig struct {
	WarehouseID     int64   // 0 resolves the default warehouse from the sink
	OpportunityTag  string  // Tag applied to under-stocked high-demand products
	ReorderMinMult  float64 // Rule min = prediction × ReorderMinMult
	ReorderMaxMult  float64 // Rule max = prediction × ReorderMaxMult
	OpportunityMult float64 // Opportunity when prediction > stock × OpportunityMult
	WritesPerSecond float64 // 0 disables throttling
	DryRun          bool    // Decide only, never write
}

// DefaultActionConfig returns sensible defaults
func DefaultActionConfig() ActionConfig {
	return ActionConfig{
		OpportunityTag:  "Sales Opportunity",
		ReorderMinMult:  1.2,
		ReorderMaxMult:  1.5,
		OpportunityMult: 1.5,
	}
}

// Decision is what the engine intends to do for one product.
type Decision struct {
	Reorder     bool
	Opportunity bool
	MinQty      decimal.Decimal
	MaxQty      decimal.Decimal
}

// Actions lists the actions a decision implies, reorder first.
func (d Decision) Actions() []domain.Action {
	var out []domain.Action
	if d.Reorder {
		out = append(out, domain.ActionReorder)
	}
	if d.Opportunity {
		out = append(out, domain.ActionOpportunity)
	}
	return out
}

// Decide evaluates the reorder and opportunity rules independently.
func Decide(predicted, stock float64, cfg ActionConfig) Decision {
	d := Decision{
		Reorder:     stock < predicted,
		Opportunity: predicted > stock*cfg.OpportunityMult,
	}
	if d.Reorder {
		p := decimal.NewFromFloat(predicted)
		d.MinQty = p.Mul(decimal.NewFromFloat(cfg.ReorderMinMult)).Round(4)
		d.MaxQty = p.Mul(decimal.NewFromFloat(cfg.ReorderMaxMult)).Round(4)
	}
	return d
}

// ReorderNote is the message posted on a product when a rule is upserted.
func ReorderNote(predicted float64) string {
	return fmt.Sprintf("Auto-generated reorder rule: Predicted demand %.0f units", predicted)
}

// EventPublisher receives action events after their writes commit.
type EventPublisher interface {
	Publish(ctx context.Context, events []domain.ActionEvent) error
}

// lazyID resolves an id at most once, on first use.
type lazyID struct {
	once    sync.Once
	resolve func(ctx context.Context) (int64, error)
	id      int64
	err     error
}

func (l *lazyID) get(ctx context.Context) (int64, error) {
	l.once.Do(func() {
		l.id, l.err = l.resolve(ctx)
	})
	return l.id, l.err
}

// ActionEngine turns predictions into reorder rules, notes and tags.
// An engine serves a single run: the warehouse and tag ids are cached for its lifetime.
type ActionEngine struct {
	sink      repository.ActionSink
	cfg       ActionConfig
	workers   int
	limiter   *rate.Limiter
	publisher EventPublisher
	now       func() time.Time

	warehouse *lazyID
	tag       *lazyID
}

// NewActionEngine creates an engine for one run. publisher may be nil.
func NewActionEngine(sink repository.ActionSink, cfg ActionConfig, workers int, publisher EventPublisher, now func() time.Time) *ActionEngine {
	if workers < 1 {
		workers = 1
	}
	if now == nil {
		now = time.Now
	}

	e := &ActionEngine{
		sink:      sink,
		cfg:       cfg,
		workers:   workers,
		publisher: publisher,
		now:       now,
	}
	if cfg.WritesPerSecond > 0 {
		burst := int(cfg.WritesPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.WritesPerSecond), burst)
	}

	e.warehouse = &lazyID{resolve: func(ctx context.Context) (int64, error) {
		if cfg.WarehouseID > 0 {
			return cfg.WarehouseID, nil
		}
		return sink.ResolveWarehouse(ctx)
	}}
	e.tag = &lazyID{resolve: func(ctx context.Context) (int64, error) {
		return sink.GetOrCreateTag(ctx, cfg.OpportunityTag)
	}}

	return e
}

// Apply acts on every catalog product present in predictions. Products are
// independent: a failure is recorded on that product's outcome only.
func (e *ActionEngine) Apply(ctx context.Context, runID string, predictions domain.PredictionMap, products []domain.Product) []domain.ProductOutcome {
	var (
		mu       sync.Mutex
		outcomes []domain.ProductOutcome
		events   []domain.ActionEvent
	)

	g := new(errgroup.Group)
	g.SetLimit(e.workers)

	for _, product := range products {
		predicted, ok := predictions[product.ID]
		if !ok {
			continue
		}
		product := product

		g.Go(func() error {
			outcome, event := e.safeApply(ctx, runID, product, predicted)

			mu.Lock()
			outcomes = append(outcomes, outcome)
			if event != nil {
				events = append(events, *event)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	e.publish(ctx, events)

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].ProductID < outcomes[j].ProductID })
	return outcomes
}

// safeApply confines a panic in the sink to the product being written.
func (e *ActionEngine) safeApply(ctx context.Context, runID string, product domain.Product, predicted float64) (outcome domain.ProductOutcome, event *domain.ActionEvent) {
	defer func() {
		if r := recover(); r != nil {
			pred := predicted
			outcome = domain.ProductOutcome{
				ProductID:       product.ID,
				Status:          domain.OutcomeFailed,
				PredictedDemand: &pred,
				CurrentStock:    product.QtyAvailable,
				Reason:          fmt.Errorf("%w: %w", domain.ErrActionWriteFailed, recovered(r)).Error(),
			}
			event = nil
		}
	}()
	return e.applyOne(ctx, runID, product, predicted)
}

func (e *ActionEngine) applyOne(ctx context.Context, runID string, product domain.Product, predicted float64) (domain.ProductOutcome, *domain.ActionEvent) {
	pred := predicted
	outcome := domain.ProductOutcome{
		ProductID:       product.ID,
		Status:          domain.OutcomeNoop,
		PredictedDemand: &pred,
		CurrentStock:    product.QtyAvailable,
	}

	d := Decide(predicted, product.QtyAvailable, e.cfg)
	if !d.Reorder && !d.Opportunity {
		return outcome, nil
	}

	fail := func(err error) (domain.ProductOutcome, *domain.ActionEvent) {
		outcome.Status = domain.OutcomeFailed
		outcome.Reason = fmt.Errorf("%w: %w", domain.ErrActionWriteFailed, err).Error()
		log.Error().Err(err).Str("run_id", runID).Int64("product_id", product.ID).Msg("product actions failed")
		return outcome, nil
	}

	if e.cfg.DryRun {
		outcome.Status = domain.OutcomeActed
		outcome.Actions = d.Actions()
		outcome.Reason = "dry run"
		return outcome, e.event(runID, product, predicted, d)
	}

	var warehouseID, tagID int64
	var err error
	if d.Reorder {
		if warehouseID, err = e.warehouse.get(ctx); err != nil {
			return fail(fmt.Errorf("resolve warehouse: %w", err))
		}
	}
	if d.Opportunity {
		if tagID, err = e.tag.get(ctx); err != nil {
			return fail(fmt.Errorf("resolve tag %q: %w", e.cfg.OpportunityTag, err))
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fail(err)
		}
	}

	err = e.sink.WithTx(ctx, func(w repository.ActionWriter) error {
		if d.Reorder {
			rule := domain.ReorderRule{
				ProductID:   product.ID,
				WarehouseID: warehouseID,
				MinQty:      d.MinQty,
				MaxQty:      d.MaxQty,
			}
			if err := w.UpsertReorderRule(ctx, rule); err != nil {
				return fmt.Errorf("upsert reorder rule: %w", err)
			}
			if err := w.PostNote(ctx, product.ID, ReorderNote(predicted)); err != nil {
				return fmt.Errorf("post note: %w", err)
			}
		}
		if d.Opportunity {
			if err := w.AddTag(ctx, product.ID, tagID); err != nil {
				return fmt.Errorf("add tag: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	outcome.Status = domain.OutcomeActed
	outcome.Actions = d.Actions()
	log.Debug().
		Str("run_id", runID).
		Int64("product_id", product.ID).
		Float64("predicted", predicted).
		Float64("stock", product.QtyAvailable).
		Bool("reorder", d.Reorder).
		Bool("opportunity", d.Opportunity).
		Msg("product actions committed")

	return outcome, e.event(runID, product, predicted, d)
}

func (e *ActionEngine) event(runID string, product domain.Product, predicted float64, d Decision) *domain.ActionEvent {
	ev := &domain.ActionEvent{
		RunID:           runID,
		ProductID:       product.ID,
		Actions:         d.Actions(),
		PredictedDemand: predicted,
		CurrentStock:    product.QtyAvailable,
		DryRun:          e.cfg.DryRun,
		OccurredAt:      e.now().UTC(),
	}
	if d.Reorder {
		minQty, maxQty := d.MinQty, d.MaxQty
		ev.MinQty, ev.MaxQty = &minQty, &maxQty
	}
	return ev
}

// publish is best-effort: committed writes stand even when publishing fails.
func (e *ActionEngine) publish(ctx context.Context, events []domain.ActionEvent) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ProductID < events[j].ProductID })
	if err := e.publisher.Publish(ctx, events); err != nil {
		log.Warn().Err(err).Int("events", len(events)).Msg("failed to publish action events")
	}
}
