package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
	"github.com/andresuchdata/autopo-forecast/internal/repository/memory"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.ActionEvent
	err    error
}

func (c *capturePublisher) Publish(ctx context.Context, events []domain.ActionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return c.err
}

func fixedNow() time.Time { return time.Date(2024, 6, 1, 2, 0, 0, 0, time.UTC) }

func TestDecide(t *testing.T) {
	cfg := DefaultActionConfig()

	tests := []struct {
		name        string
		predicted   float64
		stock       float64
		reorder     bool
		opportunity bool
	}{
		{"both", 10, 3, true, true},
		{"reorder only", 10, 8, true, false},
		{"neither", 10, 10, false, false},
		{"stock above demand", 4, 20, false, false},
		{"zero demand zero stock", 0, 0, false, false},
		{"opportunity boundary", 15, 10, true, false},
		{"negative stock", 0, -2, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Decide(tt.predicted, tt.stock, cfg)
			assert.Equal(t, tt.reorder, d.Reorder)
			assert.Equal(t, tt.opportunity, d.Opportunity)
		})
	}
}

func TestDecide_ReorderQuantities(t *testing.T) {
	d := Decide(10, 3, DefaultActionConfig())
	assert.True(t, d.MinQty.Equal(decimal.NewFromInt(12)), d.MinQty.String())
	assert.True(t, d.MaxQty.Equal(decimal.NewFromInt(15)), d.MaxQty.String())
	assert.Equal(t, []domain.Action{domain.ActionReorder, domain.ActionOpportunity}, d.Actions())
}

func TestReorderNote(t *testing.T) {
	assert.Equal(t, "Auto-generated reorder rule: Predicted demand 10 units", ReorderNote(9.6))
}

func TestActionEngine_AppliesAndUpserts(t *testing.T) {
	sink := memory.NewSink(7)
	pub := &capturePublisher{}
	engine := NewActionEngine(sink, DefaultActionConfig(), 4, pub, fixedNow)

	products := []domain.Product{
		{ID: 1, QtyAvailable: 3},
		{ID: 2, QtyAvailable: 8},
		{ID: 3, QtyAvailable: 50},
		{ID: 4, QtyAvailable: 0},
	}
	preds := domain.PredictionMap{1: 10, 2: 10, 3: 10}

	outcomes := engine.Apply(context.Background(), "run-1", preds, products)
	require.Len(t, outcomes, 3, "products without prediction get no outcome")

	assert.Equal(t, domain.OutcomeActed, outcomes[0].Status)
	assert.Equal(t, []domain.Action{domain.ActionReorder, domain.ActionOpportunity}, outcomes[0].Actions)
	assert.Equal(t, []domain.Action{domain.ActionReorder}, outcomes[1].Actions)
	assert.Equal(t, domain.OutcomeNoop, outcomes[2].Status)
	assert.Empty(t, outcomes[2].Actions)

	rules := sink.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, int64(7), rules[0].WarehouseID)
	assert.True(t, rules[0].MinQty.Equal(decimal.NewFromInt(12)))

	assert.True(t, sink.HasTag(1, "Sales Opportunity"))
	assert.False(t, sink.HasTag(2, "Sales Opportunity"))
	assert.Len(t, sink.Notes(), 2)
	assert.Equal(t, 1, sink.TagLookups())

	require.Len(t, pub.events, 2)
	assert.Equal(t, int64(1), pub.events[0].ProductID)
	assert.Equal(t, "run-1", pub.events[0].RunID)
	require.NotNil(t, pub.events[0].MinQty)
	assert.Equal(t, fixedNow(), pub.events[0].OccurredAt)
}

func TestActionEngine_RepeatedRunsDoNotDuplicate(t *testing.T) {
	sink := memory.NewSink(1)
	products := []domain.Product{{ID: 1, QtyAvailable: 3}}

	for i := 0; i < 3; i++ {
		engine := NewActionEngine(sink, DefaultActionConfig(), 1, nil, fixedNow)
		engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10 + float64(i)}, products)
	}

	rules := sink.Rules()
	require.Len(t, rules, 1)
	assert.True(t, rules[0].MinQty.Equal(decimal.NewFromFloat(14.4)), rules[0].MinQty.String())
	assert.True(t, sink.HasTag(1, "Sales Opportunity"))
}

func TestActionEngine_IsolatesFailingProduct(t *testing.T) {
	sink := memory.NewSink(1)
	sink.FailProducts = map[int64]error{2: errors.New("constraint violation")}
	engine := NewActionEngine(sink, DefaultActionConfig(), 2, nil, fixedNow)

	outcomes := engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10, 2: 10}, []domain.Product{
		{ID: 1, QtyAvailable: 3},
		{ID: 2, QtyAvailable: 3},
	})
	require.Len(t, outcomes, 2)

	assert.Equal(t, domain.OutcomeActed, outcomes[0].Status)
	assert.Equal(t, domain.OutcomeFailed, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Reason, domain.ErrActionWriteFailed.Error())
	assert.Contains(t, outcomes[1].Reason, "constraint violation")

	require.Len(t, sink.Rules(), 1)
	assert.False(t, sink.HasTag(2, "Sales Opportunity"), "failed product leaves no partial writes")
	assert.Len(t, sink.Notes(), 1)
}

func TestActionEngine_TagFailureOnlyAffectsOpportunityProducts(t *testing.T) {
	sink := memory.NewSink(1)
	sink.TagErr = errors.New("tag table locked")
	engine := NewActionEngine(sink, DefaultActionConfig(), 2, nil, fixedNow)

	outcomes := engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10, 2: 10}, []domain.Product{
		{ID: 1, QtyAvailable: 3},
		{ID: 2, QtyAvailable: 8},
	})

	assert.Equal(t, domain.OutcomeFailed, outcomes[0].Status)
	assert.Equal(t, domain.OutcomeActed, outcomes[1].Status)
	assert.Equal(t, 1, sink.TagLookups(), "tag resolved once per run even on error")
}

func TestActionEngine_MissingWarehouse(t *testing.T) {
	sink := memory.NewSink(0)
	engine := NewActionEngine(sink, DefaultActionConfig(), 1, nil, fixedNow)

	outcomes := engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10}, []domain.Product{{ID: 1, QtyAvailable: 3}})
	assert.Equal(t, domain.OutcomeFailed, outcomes[0].Status)
	assert.Contains(t, outcomes[0].Reason, "resolve warehouse")
}

func TestActionEngine_ConfiguredWarehouseSkipsLookup(t *testing.T) {
	sink := memory.NewSink(0)
	cfg := DefaultActionConfig()
	cfg.WarehouseID = 42
	engine := NewActionEngine(sink, cfg, 1, nil, fixedNow)

	outcomes := engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10}, []domain.Product{{ID: 1, QtyAvailable: 8}})
	assert.Equal(t, domain.OutcomeActed, outcomes[0].Status)
	assert.Equal(t, int64(42), sink.Rules()[0].WarehouseID)
}

func TestActionEngine_DryRunWritesNothing(t *testing.T) {
	sink := memory.NewSink(1)
	pub := &capturePublisher{}
	cfg := DefaultActionConfig()
	cfg.DryRun = true
	engine := NewActionEngine(sink, cfg, 1, pub, fixedNow)

	outcomes := engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10}, []domain.Product{{ID: 1, QtyAvailable: 3}})
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.OutcomeActed, outcomes[0].Status)
	assert.Equal(t, "dry run", outcomes[0].Reason)
	assert.Empty(t, sink.Rules())
	assert.Zero(t, sink.TagLookups())

	require.Len(t, pub.events, 1)
	assert.True(t, pub.events[0].DryRun)
}

func TestActionEngine_PublishFailureKeepsOutcomes(t *testing.T) {
	sink := memory.NewSink(1)
	pub := &capturePublisher{err: errors.New("broker down")}
	engine := NewActionEngine(sink, DefaultActionConfig(), 1, pub, fixedNow)

	outcomes := engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10}, []domain.Product{{ID: 1, QtyAvailable: 3}})
	assert.Equal(t, domain.OutcomeActed, outcomes[0].Status)
	assert.Len(t, sink.Rules(), 1)
}

func TestActionEngine_RateLimited(t *testing.T) {
	sink := memory.NewSink(1)
	cfg := DefaultActionConfig()
	cfg.WritesPerSecond = 1000
	engine := NewActionEngine(sink, cfg, 2, nil, fixedNow)

	preds := domain.PredictionMap{}
	var products []domain.Product
	for id := int64(1); id <= 20; id++ {
		preds[id] = 10
		products = append(products, domain.Product{ID: id, QtyAvailable: 1})
	}

	outcomes := engine.Apply(context.Background(), "run", preds, products)
	require.Len(t, outcomes, 20)
	for _, o := range outcomes {
		assert.Equal(t, domain.OutcomeActed, o.Status)
	}
}

// crashingSink panics while writing the reorder rule of one product.
type crashingSink struct {
	*memory.Sink
	productID int64
}

func (s *crashingSink) WithTx(ctx context.Context, fn func(w repository.ActionWriter) error) error {
	return s.Sink.WithTx(ctx, func(w repository.ActionWriter) error {
		return fn(crashingWriter{ActionWriter: w, productID: s.productID})
	})
}

type crashingWriter struct {
	repository.ActionWriter
	productID int64
}

func (w crashingWriter) UpsertReorderRule(ctx context.Context, rule domain.ReorderRule) error {
	if rule.ProductID == w.productID {
		panic("driver: bad connection")
	}
	return w.ActionWriter.UpsertReorderRule(ctx, rule)
}

func TestActionEngine_SinkPanicFailsOnlyThatProduct(t *testing.T) {
	sink := &crashingSink{Sink: memory.NewSink(1), productID: 2}
	pub := &capturePublisher{}
	engine := NewActionEngine(sink, DefaultActionConfig(), 2, pub, fixedNow)

	var outcomes []domain.ProductOutcome
	require.NotPanics(t, func() {
		outcomes = engine.Apply(context.Background(), "run", domain.PredictionMap{1: 10, 2: 10}, []domain.Product{
			{ID: 1, QtyAvailable: 3},
			{ID: 2, QtyAvailable: 3},
		})
	})
	require.Len(t, outcomes, 2)

	assert.Equal(t, domain.OutcomeActed, outcomes[0].Status)
	assert.Equal(t, domain.OutcomeFailed, outcomes[1].Status)
	assert.Contains(t, outcomes[1].Reason, domain.ErrActionWriteFailed.Error())
	assert.Contains(t, outcomes[1].Reason, "driver: bad connection")

	require.Len(t, sink.Rules(), 1)
	assert.Equal(t, int64(1), sink.Rules()[0].ProductID)
	require.Len(t, pub.events, 1)
	assert.Equal(t, int64(1), pub.events[0].ProductID)
}
