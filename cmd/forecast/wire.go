package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/events"
	"github.com/andresuchdata/autopo-forecast/internal/forest"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository/csvfile"
	"github.com/andresuchdata/autopo-forecast/internal/repository/memory"
	"github.com/andresuchdata/autopo-forecast/internal/repository/postgres"
	"github.com/andresuchdata/autopo-forecast/internal/service"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
)

const (
	sourcePostgres = "postgres"
	sourceCSV      = "csv"
)

// app holds every long-lived dependency of a command.
type app struct {
	cfg          *config.Config
	db           *postgres.DB
	cache        *cache.Cache
	producer     *events.Producer
	orchestrator *pipeline.Orchestrator
	forecast     *service.ForecastService
}

// newApp wires the forecast from configuration. A dry run over CSV exports
// needs no database; every other combination does.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	source := strings.ToLower(cfg.Forecast.Source)
	if source != sourcePostgres && source != sourceCSV {
		return nil, fmt.Errorf("unknown forecast source %q", cfg.Forecast.Source)
	}

	a := &app{cfg: cfg}
	deps := pipeline.Dependencies{}

	if source == sourcePostgres || !cfg.Forecast.DryRun {
		db, err := postgres.NewDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		deps.Sink = postgres.NewSink(db)
		deps.Runs = postgres.NewRunRepository(db)
	} else {
		deps.Sink = memory.NewSink(cfg.Forecast.WarehouseID)
		deps.Runs = memory.NewRuns()
	}

	if source == sourceCSV {
		deps.Source = csvfile.NewSource(cfg.Forecast.CSVDir)
	} else {
		deps.Source = postgres.NewSource(a.db)
	}

	c, err := cache.New(cfg.Cache)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = c

	if cfg.Storage.ExportEnabled {
		exporter, err := newExporter(cfg.Storage)
		if err != nil {
			a.Close()
			return nil, err
		}
		deps.Exporter = exporter
	}

	if len(cfg.Events.Brokers) > 0 {
		a.producer = events.NewProducer(cfg.Events.Brokers, cfg.Events.Topic)
		deps.Publisher = a.producer
	}

	a.orchestrator, err = pipeline.NewOrchestrator(deps, pipelineConfig(cfg.Forecast))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.forecast = service.NewForecastService(a.orchestrator, deps.Runs, c.Reports, c.Lock, cfg.Forecast.RunTimeout)

	log.Info().
		Str("source", source).
		Bool("dry_run", cfg.Forecast.DryRun).
		Bool("export", deps.Exporter != nil).
		Bool("events", deps.Publisher != nil).
		Bool("redis", cfg.Cache.Enabled).
		Msg("forecast wired")

	return a, nil
}

func newExporter(cfg config.StorageConfig) (*pipeline.FeatureExporter, error) {
	var store storage.ObjectStorage
	if cfg.Endpoint != "" {
		client, err := newObjectStorage(cfg)
		if err != nil {
			return nil, err
		}
		store = client
	}
	return pipeline.NewFeatureExporter(cfg.ExportDir, store, cfg.Prefix), nil
}

func newObjectStorage(cfg config.StorageConfig) (*storage.MinioClient, error) {
	client, err := storage.NewMinioClient(storage.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}
	return client, nil
}

// pipelineConfig maps the forecast settings onto the pipeline.
func pipelineConfig(fc config.ForecastConfig) pipeline.Config {
	cfg := pipeline.DefaultConfig()

	if fc.LookbackDays > 0 {
		cfg.LookbackDays = fc.LookbackDays
	}
	if fc.HorizonDays > 0 {
		cfg.HorizonDays = fc.HorizonDays
	}
	if fc.Workers > 0 {
		cfg.Workers = fc.Workers
	}

	cfg.Forest = forest.Config{
		Trees:          fc.Trees,
		MaxDepth:       fc.MaxDepth,
		MinSamplesLeaf: fc.MinSamplesLeaf,
		Seed:           fc.Seed,
		Workers:        cfg.Workers,
	}
	if cfg.Forest.Trees <= 0 {
		cfg.Forest.Trees = forest.DefaultConfig().Trees
	}

	actions := pipeline.DefaultActionConfig()
	actions.WarehouseID = fc.WarehouseID
	actions.WritesPerSecond = fc.WritesPerSecond
	actions.DryRun = fc.DryRun
	if fc.OpportunityTag != "" {
		actions.OpportunityTag = fc.OpportunityTag
	}
	if fc.ReorderMinMult > 0 {
		actions.ReorderMinMult = fc.ReorderMinMult
	}
	if fc.ReorderMaxMult > 0 {
		actions.ReorderMaxMult = fc.ReorderMaxMult
	}
	if fc.OpportunityMult > 0 {
		actions.OpportunityMult = fc.OpportunityMult
	}
	cfg.Actions = actions

	return cfg
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.forecast != nil {
		a.forecast.Wait()
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close event producer")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close cache")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close database")
		}
	}
}
