package pipeline

import (
	"runtime"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/forest"
)

const (
	// Epsilon keeps the demand/supply denominator away from zero.
	Epsilon = 1e-6

	ShortWindowDays  = 7
	GrowthWindowDays = 30
	BaseWindowDays   = 60

	DefaultLookbackDays = 365
	DefaultHorizonDays  = 30
)

// Config holds configuration for a forecast pipeline instance
type Config struct {
	LookbackDays int // Trailing window kept by the cleaner
	HorizonDays  int // Forecast horizon reported with each run
	Workers      int // Concurrent products during predict and act
	Forest       forest.Config
	Actions      ActionConfig
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		LookbackDays: DefaultLookbackDays,
		HorizonDays:  DefaultHorizonDays,
		Workers:      runtime.NumCPU(),
		Forest:       forest.DefaultConfig(),
		Actions:      DefaultActionConfig(),
	}
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

// RawData is the passthrough result of extraction.
type RawData struct {
	Sales []domain.SalesRow
	Moves []domain.InventoryMove
}
