// Package memory provides in-process implementations of the repository contracts.
// They back dry runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// Source is a DataSource over fixed slices. A non-nil Err is returned by every read.
type Source struct {
	Sales    []domain.SalesRow
	Moves    []domain.InventoryMove
	Levels   []domain.InventoryLevel
	Products []domain.Product
	Err      error
}

func (s *Source) ReadSales(ctx context.Context) ([]domain.SalesRow, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.SalesRow(nil), s.Sales...), nil
}

func (s *Source) ReadStockMoves(ctx context.Context) ([]domain.InventoryMove, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.InventoryMove(nil), s.Moves...), nil
}

func (s *Source) ReadStockLevels(ctx context.Context) ([]domain.InventoryLevel, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.InventoryLevel(nil), s.Levels...), nil
}

func (s *Source) ReadProducts(ctx context.Context) ([]domain.Product, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]domain.Product(nil), s.Products...), nil
}

var _ repository.DataSource = (*Source)(nil)

type ruleKey struct {
	ProductID   int64
	WarehouseID int64
}

// Note is a message posted on a product record.
type Note struct {
	ProductID int64
	Body      string
}

// Sink is a transactional in-memory ActionSink.
// FailProducts makes every write for the listed products fail; TagErr fails tag resolution.
type Sink struct {
	WarehouseID  int64
	FailProducts map[int64]error
	TagErr       error

	mu          sync.Mutex
	rules       map[ruleKey]domain.ReorderRule
	notes       []Note
	tags        map[string]int64
	productTags map[int64]map[int64]bool
	tagCalls    int
}

// NewSink creates an empty sink with the given default warehouse.
func NewSink(warehouseID int64) *Sink {
	return &Sink{
		WarehouseID: warehouseID,
		rules:       make(map[ruleKey]domain.ReorderRule),
		tags:        make(map[string]int64),
		productTags: make(map[int64]map[int64]bool),
	}
}

func (s *Sink) failure(productID int64) error {
	if err, ok := s.FailProducts[productID]; ok {
		return err
	}
	return nil
}

func (s *Sink) ResolveWarehouse(ctx context.Context) (int64, error) {
	if s.WarehouseID == 0 {
		return 0, fmt.Errorf("no warehouse configured")
	}
	return s.WarehouseID, nil
}

func (s *Sink) GetOrCreateTag(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagCalls++
	if s.TagErr != nil {
		return 0, s.TagErr
	}
	if id, ok := s.tags[name]; ok {
		return id, nil
	}
	id := int64(len(s.tags) + 1)
	s.tags[name] = id
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

// WithTx buffers writes and applies them only when fn succeeds.
func (s *Sink) WithTx(ctx context.Context, fn func(w repository.ActionWriter) error) error {
	tx := &sinkTx{sink: s}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.ops {
		op()
	}
	return nil
}

type sinkTx struct {
	sink *Sink
	ops  []func()
}

func (t *sinkTx) UpsertReorderRule(ctx context.Context, rule domain.ReorderRule) error {
	if err := t.sink.failure(rule.ProductID); err != nil {
		return err
	}
	t.ops = append(t.ops, func() {
		t.sink.rules[ruleKey{rule.ProductID, rule.WarehouseID}] = rule
	})
	return nil
}

func (t *sinkTx) PostNote(ctx context.Context, productID int64, body string) error {
	if err := t.sink.failure(productID); err != nil {
		return err
	}
	t.ops = append(t.ops, func() {
		t.sink.notes = append(t.sink.notes, Note{ProductID: productID, Body: body})
	})
	return nil
}

func (t *sinkTx) AddTag(ctx context.Context, productID, tagID int64) error {
	if err := t.sink.failure(productID); err != nil {
		return err
	}
	t.ops = append(t.ops, func() {
		if t.sink.productTags[productID] == nil {
			t.sink.productTags[productID] = make(map[int64]bool)
		}
		t.sink.productTags[productID][tagID] = true
	})
	return nil
}

// Rules returns the committed reorder rules ordered by product.
func (s *Sink) Rules() []domain.ReorderRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ReorderRule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Notes returns the committed notes in posting order.
func (s *Sink) Notes() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Note(nil), s.notes...)
}

// HasTag reports whether the product carries the named tag.
func (s *Sink) HasTag(productID int64, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.tags[name]
	if !ok {
		return false
	}
	return s.productTags[productID][id]
}

// TagLookups returns how many times GetOrCreateTag was called.
func (s *Sink) TagLookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagCalls
}

var _ repository.ActionSink = (*Sink)(nil)

// Runs is an in-memory RunRepository.
type Runs struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*domain.RunReport
}

func NewRuns() *Runs {
	return &Runs{byID: make(map[string]*domain.RunReport)}
}

func (r *Runs) SaveRun(ctx context.Context, report *domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[report.RunID]; !ok {
		r.order = append(r.order, report.RunID)
	}
	r.byID[report.RunID] = cloneReport(report)
	return nil
}

func (r *Runs) GetRun(ctx context.Context, runID string) (*domain.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, ok := r.byID[runID]
	if !ok {
		return nil, nil
	}
	return cloneReport(report), nil
}

func (r *Runs) GetLatestRun(ctx context.Context) (*domain.RunReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, nil
	}
	return cloneReport(r.byID[r.order[len(r.order)-1]]), nil
}

// cloneReport copies the outcomes and predictions so stored reports never
// alias the caller's.
func cloneReport(report *domain.RunReport) *domain.RunReport {
	cp := *report
	cp.Outcomes = append([]domain.ProductOutcome(nil), report.Outcomes...)
	if report.Predictions != nil {
		cp.Predictions = make(domain.PredictionMap, len(report.Predictions))
		for id, v := range report.Predictions {
			cp.Predictions[id] = v
		}
	}
	return &cp
}

var _ repository.RunRepository = (*Runs)(nil)
