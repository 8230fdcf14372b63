package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

func TestSourceErr(t *testing.T) {
	src := &Source{Products: []domain.Product{{ID: 1}}}
	products, err := src.ReadProducts(context.Background())
	require.NoError(t, err)
	assert.Len(t, products, 1)

	src.Err = domain.ErrDataUnavailable
	_, err = src.ReadSales(context.Background())
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestSinkTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(7)
	sink.FailProducts = map[int64]error{2: errors.New("locked")}

	tag, err := sink.GetOrCreateTag(ctx, "Sales Opportunity")
	require.NoError(t, err)

	write := func(productID int64) error {
		return sink.WithTx(ctx, func(w repository.ActionWriter) error {
			if err := w.UpsertReorderRule(ctx, domain.ReorderRule{
				ProductID: productID, WarehouseID: 7,
				MinQty: decimal.NewFromInt(12), MaxQty: decimal.NewFromInt(15),
			}); err != nil {
				return err
			}
			if err := w.PostNote(ctx, productID, "note"); err != nil {
				return err
			}
			return w.AddTag(ctx, productID, tag)
		})
	}

	require.NoError(t, write(1))
	require.Error(t, write(2))
	require.NoError(t, write(1))

	rules := sink.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, int64(1), rules[0].ProductID)
	assert.Len(t, sink.Notes(), 2)
	assert.True(t, sink.HasTag(1, "Sales Opportunity"))
	assert.False(t, sink.HasTag(2, "Sales Opportunity"))
	assert.False(t, sink.HasTag(1, "Other"))
}

func TestSinkTags(t *testing.T) {
	ctx := context.Background()
	sink := NewSink(0)

	a, err := sink.GetOrCreateTag(ctx, "A")
	require.NoError(t, err)
	again, err := sink.GetOrCreateTag(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Equal(t, 2, sink.TagLookups())

	_, err = sink.ResolveWarehouse(ctx)
	assert.Error(t, err)
}

func TestRuns(t *testing.T) {
	ctx := context.Background()
	runs := NewRuns()

	latest, err := runs.GetLatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	require.NoError(t, runs.SaveRun(ctx, &domain.RunReport{RunID: "a", Status: domain.RunStatusRunning}))
	require.NoError(t, runs.SaveRun(ctx, &domain.RunReport{RunID: "b", Status: domain.RunStatusRunning}))
	require.NoError(t, runs.SaveRun(ctx, &domain.RunReport{RunID: "a", Status: domain.RunStatusCompleted}))

	latest, err = runs.GetLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.RunID)

	a, err := runs.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, a.Status)

	missing, err := runs.GetRun(ctx, "zzz")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRunsStoreIndependentCopies(t *testing.T) {
	ctx := context.Background()
	runs := NewRuns()

	report := &domain.RunReport{
		RunID:       "a",
		Predictions: domain.PredictionMap{1: 10},
		Outcomes:    []domain.ProductOutcome{{ProductID: 1, Status: domain.OutcomeActed}},
	}
	require.NoError(t, runs.SaveRun(ctx, report))

	report.Predictions[1] = 99
	report.Predictions[2] = 5
	report.Outcomes[0].Status = domain.OutcomeFailed

	saved, err := runs.GetRun(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.PredictionMap{1: 10}, saved.Predictions)
	assert.Equal(t, domain.OutcomeActed, saved.Outcomes[0].Status)

	saved.Predictions[1] = 0
	again, err := runs.GetLatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Predictions[1])
}
