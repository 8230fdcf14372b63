package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/api"
	"github.com/andresuchdata/autopo-forecast/internal/cache"
	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/internal/drive"
	"github.com/andresuchdata/autopo-forecast/internal/pipeline"
	"github.com/andresuchdata/autopo-forecast/internal/repository/csvfile"
	"github.com/andresuchdata/autopo-forecast/internal/repository/postgres"
	"github.com/andresuchdata/autopo-forecast/internal/scheduler"
	"github.com/andresuchdata/autopo-forecast/internal/storage"
	"github.com/andresuchdata/autopo-forecast/pkg/logger"
)

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "source",
			Usage: "Data source: postgres or csv (overrides FORECAST_SOURCE)",
		},
		&cli.StringFlag{
			Name:  "csv-dir",
			Usage: "Directory holding sales.csv, stock_moves.csv, stock_levels.csv and products.csv",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Decide actions without writing them",
		},
	}
}

// configure loads configuration and applies command-line overrides.
func configure(c *cli.Context) *config.Config {
	cfg := config.Load()
	if v := c.String("source"); v != "" {
		cfg.Forecast.Source = v
	}
	if v := c.String("csv-dir"); v != "" {
		cfg.Forecast.CSVDir = v
	}
	if c.Bool("dry-run") {
		cfg.Forecast.DryRun = true
	}
	if v := c.Int("lookback-days"); v > 0 {
		cfg.Forecast.LookbackDays = v
	}
	return cfg
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the forecast once and act on the predictions",
		Flags: append(sourceFlags(), &cli.IntFlag{
			Name:  "lookback-days",
			Usage: "Days of sales history to train on",
		}),
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext(c.Context)
			defer stop()

			a, err := newApp(ctx, configure(c))
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.forecast.Run(ctx)
			if report == nil {
				return err
			}

			fmt.Fprintln(c.App.Writer, report.Message())
			if err != nil {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func featuresCommand() *cli.Command {
	return &cli.Command{
		Name:  "features",
		Usage: "Build the training feature table and write it as CSV",
		Flags: append(sourceFlags(),
			&cli.IntFlag{
				Name:  "lookback-days",
				Usage: "Days of sales history to include",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Output file (stdout when empty)",
			},
		),
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext(c.Context)
			defer stop()

			cfg := configure(c)
			cfg.Forecast.DryRun = true
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.orchestrator.PrepareTrainingData(ctx, cfg.Forecast.LookbackDays)
			if err != nil {
				return err
			}

			var w io.Writer = c.App.Writer
			if path := c.String("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}

			if err := pipeline.WriteFeatureCSV(w, rows); err != nil {
				return err
			}
			log.Info().Int("rows", len(rows)).Msg("feature table written")
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the forecast HTTP API",
		Flags: append(sourceFlags(), &cli.BoolFlag{
			Name:  "with-schedule",
			Usage: "Also run the cron schedule in this process",
		}),
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext(c.Context)
			defer stop()

			cfg := configure(c)
			if cfg.Server.Mode == "debug" {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if c.Bool("with-schedule") {
				sched, err := newScheduler(a)
				if err != nil {
					return err
				}
				sched.Start()
				defer sched.Stop()
			}

			router := api.NewRouter(&api.Services{Forecast: a.forecast}, cfg.Server.AllowedOrigins)
			srv := &http.Server{
				Addr:         ":" + cfg.Server.Port,
				Handler:      router,
				ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
				WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.Info().Str("port", cfg.Server.Port).Msg("Starting server")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("failed to start server: %w", err)
				}
			case <-ctx.Done():
			}
			logger.Log.Info().Msg("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}

			logger.Log.Info().Msg("Server exiting")
			return nil
		},
	}
}

func newScheduler(a *app) (*scheduler.Scheduler, error) {
	return scheduler.New(a.cfg.Schedule.Cron, func(ctx context.Context) error {
		_, err := a.forecast.Run(ctx)
		return err
	}, a.cfg.Schedule.MaxRetries, a.cfg.Schedule.RetryDelay)
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Run the forecast on the SCHEDULE_CRON schedule",
		Flags: append(sourceFlags(), &cli.BoolFlag{
			Name:  "run-now",
			Usage: "Run once immediately before waiting for the schedule",
		}),
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext(c.Context)
			defer stop()

			a, err := newApp(ctx, configure(c))
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := newScheduler(a)
			if err != nil {
				return err
			}

			if c.Bool("run-now") {
				sched.RunOnce(ctx)
			}

			sched.Start()
			log.Info().Time("next", sched.Next()).Msg("waiting for schedule")
			<-ctx.Done()
			sched.Stop()
			return nil
		},
	}
}

func fetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Download the CSV exports into the CSV directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "from",
				Usage: "Where to fetch from: drive or s3",
				Value: "drive",
			},
			&cli.StringFlag{
				Name:  "csv-dir",
				Usage: "Destination directory (defaults to FORECAST_CSV_DIR)",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signalContext(c.Context)
			defer stop()

			cfg := configure(c)
			dir := cfg.Forecast.CSVDir

			var (
				paths []string
				err   error
			)
			switch c.String("from") {
			case "drive":
				var srv *drive.Service
				srv, err = drive.NewService(ctx, cfg.Drive.CredentialsJSON)
				if err != nil {
					return err
				}
				paths, err = drive.NewFetcher(srv).Fetch(ctx, drive.FetchOptions{
					FolderID:    cfg.Drive.FolderID,
					FolderPath:  cfg.Drive.FolderPath,
					DownloadDir: dir,
					Names:       csvfile.Files,
				})
			case "s3":
				var store *storage.MinioClient
				store, err = newObjectStorage(cfg.Storage)
				if err != nil {
					return err
				}
				paths, err = storage.FetchExports(ctx, store, cfg.Storage.Prefix, dir, csvfile.Files)
			default:
				return fmt.Errorf("unknown fetch source %q", c.String("from"))
			}
			if err != nil {
				return err
			}

			for _, p := range paths {
				fmt.Fprintln(c.App.Writer, p)
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply SQL migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Directory containing migration files",
				Value:   "./scripts/migrations",
				EnvVars: []string{"MIGRATIONS_DIR"},
			},
			&cli.BoolFlag{
				Name:  "keep-cache",
				Usage: "Do not clear cached run reports after applying migrations",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := config.Load()

			db, err := postgres.NewDB(c.Context, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			applied, err := postgres.Migrate(c.Context, db, c.String("dir"))
			if err != nil {
				return err
			}

			log.Info().Strs("applied", applied).Str("db", cfg.Database.DBName).Msg("migrations complete")
			if len(applied) == 0 || c.Bool("keep-cache") {
				return nil
			}

			// Cached reports were read from the old schema.
			rc, err := cache.New(cfg.Cache)
			if err != nil {
				log.Warn().Err(err).Msg("cache unavailable, cached reports not cleared")
				return nil
			}
			defer rc.Close()
			if err := rc.Reports.InvalidateAll(c.Context); err != nil {
				log.Warn().Err(err).Msg("failed to clear cached reports")
			}
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load CSV exports into the business tables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "csv-dir",
				Usage: "Directory holding the exports (defaults to FORECAST_CSV_DIR)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := configure(c)

			db, err := postgres.NewDB(c.Context, &cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			stats, err := postgres.Seed(c.Context, db, csvfile.NewSource(cfg.Forecast.CSVDir))
			if err != nil {
				return err
			}

			fmt.Fprintf(c.App.Writer, "seeded %d products, %d sales, %d stock moves, %d stock levels\n",
				stats.Products, stats.Sales, stats.StockMoves, stats.StockLevels)
			return nil
		},
	}
}
