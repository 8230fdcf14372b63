package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

// Extractor pulls raw sales and stock moves from the data source.
type Extractor struct {
	source repository.DataSource
}

func NewExtractor(source repository.DataSource) *Extractor {
	return &Extractor{source: source}
}

// Extract returns confirmed sales lines and stock moves as the source returned them.
func (e *Extractor) Extract(ctx context.Context) (*RawData, error) {
	sales, err := e.source.ReadSales(ctx)
	if err != nil {
		return nil, unavailable("read sales", err)
	}

	moves, err := e.source.ReadStockMoves(ctx)
	if err != nil {
		return nil, unavailable("read stock moves", err)
	}

	return &RawData{Sales: sales, Moves: moves}, nil
}

// unavailable tags a data source error as ErrDataUnavailable without losing the cause.
func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrDataUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrDataUnavailable, err)
}
