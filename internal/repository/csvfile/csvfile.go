// Package csvfile reads forecast inputs from a directory of CSV exports.
package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/repository"
)

const (
	SalesFile       = "sales.csv"
	StockMovesFile  = "stock_moves.csv"
	StockLevelsFile = "stock_levels.csv"
	ProductsFile    = "products.csv"
)

// Files lists every file a Source reads.
var Files = []string{SalesFile, StockMovesFile, StockLevelsFile, ProductsFile}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// confirmedStates are the order states counted as sales when a state column is present.
var confirmedStates = map[string]bool{"sale": true, "done": true}

// Source is a DataSource over <dir>/sales.csv, stock_moves.csv, stock_levels.csv and products.csv.
type Source struct {
	dir string
}

func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// Dir returns the directory the source reads from.
func (s *Source) Dir() string {
	return s.dir
}

func (s *Source) ReadSales(ctx context.Context) ([]domain.SalesRow, error) {
	var out []domain.SalesRow
	err := s.read(ctx, SalesFile, []string{"order_date", "product_id", "quantity"}, func(r *row) error {
		if r.has("state") && !confirmedStates[strings.ToLower(r.get("state"))] {
			return nil
		}
		date, err := r.optionalTime("order_date")
		if err != nil {
			return err
		}
		productID, err := r.optionalInt("product_id")
		if err != nil {
			return err
		}
		qty, err := r.optionalFloat("quantity")
		if err != nil {
			return err
		}
		price, err := r.optionalFloat("unit_price")
		if err != nil {
			return err
		}

		sale := domain.SalesRow{OrderDate: date, ProductID: productID, Quantity: qty}
		if price != nil {
			sale.UnitPrice = *price
		}
		out = append(out, sale)
		return nil
	})
	return out, err
}

func (s *Source) ReadStockMoves(ctx context.Context) ([]domain.InventoryMove, error) {
	var out []domain.InventoryMove
	err := s.read(ctx, StockMovesFile, []string{"product_id", "move_date", "quantity_moved"}, func(r *row) error {
		var m domain.InventoryMove
		var err error
		if m.ProductID, err = r.int("product_id"); err != nil {
			return err
		}
		if m.MoveDate, err = r.time("move_date"); err != nil {
			return err
		}
		if m.QuantityMoved, err = r.float("quantity_moved"); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (s *Source) ReadStockLevels(ctx context.Context) ([]domain.InventoryLevel, error) {
	var out []domain.InventoryLevel
	err := s.read(ctx, StockLevelsFile, []string{"product_id", "as_of_date", "quantity_on_hand"}, func(r *row) error {
		var l domain.InventoryLevel
		var err error
		if l.ProductID, err = r.int("product_id"); err != nil {
			return err
		}
		if l.AsOfDate, err = r.time("as_of_date"); err != nil {
			return err
		}
		if l.QuantityOnHand, err = r.float("quantity_on_hand"); err != nil {
			return err
		}
		out = append(out, l)
		return nil
	})
	return out, err
}

func (s *Source) ReadProducts(ctx context.Context) ([]domain.Product, error) {
	var out []domain.Product
	err := s.read(ctx, ProductsFile, []string{"id", "qty_available"}, func(r *row) error {
		var p domain.Product
		var err error
		if p.ID, err = r.int("id"); err != nil {
			return err
		}
		if p.QtyAvailable, err = r.float("qty_available"); err != nil {
			return err
		}
		p.Name = r.get("name")
		out = append(out, p)
		return nil
	})
	return out, err
}

// read streams one file, validating the header before calling fn per record.
func (s *Source) read(ctx context.Context, name string, required []string, fn func(r *row) error) error {
	path := filepath.Join(s.dir, name)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrDataUnavailable, name, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: read %s header: %w", domain.ErrDataUnavailable, name, err)
	}

	colMap := make(map[string]int, len(header))
	for i, col := range header {
		colMap[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")))] = i
	}
	for _, col := range required {
		if _, ok := colMap[col]; !ok {
			return fmt.Errorf("%w: %s: missing required column %q", domain.ErrDataUnavailable, name, col)
		}
	}

	count := 0
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrDataUnavailable, name, err)
		}

		if err := fn(&row{record: record, cols: colMap}); err != nil {
			return fmt.Errorf("%w: %s line %d: %w", domain.ErrDataUnavailable, name, line, err)
		}
		count++
	}

	log.Debug().Str("file", path).Int("records", count).Msg("csv file read")
	return nil
}

type row struct {
	record []string
	cols   map[string]int
}

func (r *row) has(col string) bool {
	_, ok := r.cols[col]
	return ok
}

func (r *row) get(col string) string {
	if idx, ok := r.cols[col]; ok && idx < len(r.record) {
		return strings.TrimSpace(r.record[idx])
	}
	return ""
}

func (r *row) optionalTime(col string) (*time.Time, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	t, err := ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col, err)
	}
	return &t, nil
}

func (r *row) optionalInt(col string) (*int64, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col, err)
	}
	return &n, nil
}

func (r *row) optionalFloat(col string) (*float64, error) {
	v := r.get(col)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col, err)
	}
	return &f, nil
}

func (r *row) time(col string) (time.Time, error) {
	t, err := r.optionalTime(col)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, fmt.Errorf("column %s: empty value", col)
	}
	return *t, nil
}

func (r *row) int(col string) (int64, error) {
	n, err := r.optionalInt(col)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, fmt.Errorf("column %s: empty value", col)
	}
	return *n, nil
}

func (r *row) float(col string) (float64, error) {
	f, err := r.optionalFloat(col)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, fmt.Errorf("column %s: empty value", col)
	}
	return *f, nil
}

// ParseDate accepts a date, a "YYYY-MM-DD HH:MM:SS" timestamp or RFC 3339.
// Zone-less values are read as UTC.
func ParseDate(v string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", v)
}

var _ repository.DataSource = (*Source)(nil)
