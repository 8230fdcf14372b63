// Package forest implements a bagged random forest of CART regression trees.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyMatrix   = errors.New("feature matrix is empty")
	ErrShapeMismatch = errors.New("feature matrix shape mismatch")
	ErrNonFinite     = errors.New("feature matrix contains non-finite values")
)

// Config holds the fixed forest hyperparameters.
type Config struct {
	Trees          int   // Number of trees in the ensemble
	MaxDepth       int   // 0 means grow until leaves are pure or too small
	MinSamplesLeaf int   // Minimum rows on each side of a split
	Seed           int64 // Base seed; tree i uses Seed+i
	Workers        int   // Trees fitted concurrently
}

// DefaultConfig returns the forest used by the forecasting pipeline.
func DefaultConfig() Config {
	return Config{
		Trees:          50,
		MaxDepth:       0,
		MinSamplesLeaf: 1,
		Seed:           42,
		Workers:        runtime.NumCPU(),
	}
}

// Forest is a trained ensemble. It is read-only after Fit and safe for concurrent Predict calls.
type Forest struct {
	trees     []*node
	nFeatures int
}

type node struct {
	feature   int
	threshold float64
	left      *node
	right     *node
	value     float64
	leaf      bool
}

// Fit trains a forest on X (rows × features) and targets y.
func Fit(ctx context.Context, X [][]float64, y []float64, cfg Config) (*Forest, error) {
	if len(X) == 0 || len(y) == 0 {
		return nil, ErrEmptyMatrix
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d targets", ErrShapeMismatch, len(X), len(y))
	}
	nFeatures := len(X[0])
	if nFeatures == 0 {
		return nil, ErrEmptyMatrix
	}
	for i, row := range X {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("%w: row %d has %d features, want %d", ErrShapeMismatch, i, len(row), nFeatures)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d", ErrNonFinite, i)
			}
		}
		if math.IsNaN(y[i]) || math.IsInf(y[i], 0) {
			return nil, fmt.Errorf("%w: target %d", ErrNonFinite, i)
		}
	}

	if cfg.Trees < 1 {
		cfg.Trees = 1
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	f := &Forest{
		trees:     make([]*node, cfg.Trees),
		nFeatures: nFeatures,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for t := 0; t < cfg.Trees; t++ {
		t := t
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("tree %d: panic: %v", t, r)
				}
			}()
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(cfg.Seed + int64(t)))
			b := &builder{X: X, y: y, cfg: cfg}
			f.trees[t] = b.build(bootstrap(rng, len(y)), 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return f, nil
}

// Predict averages the tree outputs for a single feature vector.
func (f *Forest) Predict(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.trees))
}

// NumTrees returns the ensemble size.
func (f *Forest) NumTrees() int {
	return len(f.trees)
}

// NumFeatures returns the feature vector width the forest was trained on.
func (f *Forest) NumFeatures() int {
	return f.nFeatures
}

func (n *node) predict(x []float64) float64 {
	cur := n
	for !cur.leaf {
		if x[cur.feature] <= cur.threshold {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return cur.value
}

func bootstrap(rng *rand.Rand, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

type builder struct {
	X   [][]float64
	y   []float64
	cfg Config
}

type split struct {
	feature   int
	threshold float64
	pos       int
	order     []int
}

func (b *builder) build(idx []int, depth int) *node {
	sum, sumSq := 0.0, 0.0
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	n := float64(len(idx))
	mean := sum / n
	leaf := &node{leaf: true, value: mean}

	if len(idx) < 2*b.cfg.MinSamplesLeaf {
		return leaf
	}
	if b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth {
		return leaf
	}
	if sumSq-sum*sum/n <= 1e-12 {
		return leaf
	}

	best, ok := b.bestSplit(idx)
	if !ok {
		return leaf
	}

	left := append([]int(nil), best.order[:best.pos]...)
	right := append([]int(nil), best.order[best.pos:]...)

	return &node{
		feature:   best.feature,
		threshold: best.threshold,
		left:      b.build(left, depth+1),
		right:     b.build(right, depth+1),
	}
}

// bestSplit maximizes sumL²/nL + sumR²/nR, which minimizes the children's squared error.
func (b *builder) bestSplit(idx []int) (split, bool) {
	var (
		best      split
		bestScore = math.Inf(-1)
		found     bool
		minLeaf   = b.cfg.MinSamplesLeaf
	)

	total := 0.0
	for _, i := range idx {
		total += b.y[i]
	}

	for f := 0; f < len(b.X[0]); f++ {
		order := append([]int(nil), idx...)
		sort.SliceStable(order, func(a, c int) bool {
			return b.X[order[a]][f] < b.X[order[c]][f]
		})

		left := 0.0
		for pos := 1; pos < len(order); pos++ {
			left += b.y[order[pos-1]]
			if pos < minLeaf || len(order)-pos < minLeaf {
				continue
			}
			lo, hi := b.X[order[pos-1]][f], b.X[order[pos]][f]
			if lo == hi {
				continue
			}
			nl, nr := float64(pos), float64(len(order)-pos)
			right := total - left
			score := left*left/nl + right*right/nr
			if score > bestScore {
				bestScore = score
				best = split{feature: f, threshold: midpoint(lo, hi), pos: pos, order: order}
				found = true
			}
		}
	}

	return best, found
}

// midpoint returns a threshold t with lo <= t < hi, so x <= t sends lo left
// and hi right even when the two are adjacent floats.
func midpoint(lo, hi float64) float64 {
	m := lo + (hi-lo)/2
	if m >= hi {
		return lo
	}
	return m
}
