// cmd/forecast/main.go
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/autopo-forecast/internal/config"
	"github.com/andresuchdata/autopo-forecast/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "forecast",
		Usage: "Demand forecasting with automated reorder rules",
		Before: func(c *cli.Context) error {
			cfg := config.Load()
			logger.Configure(cfg.Log.Format, cfg.Log.Level)
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			featuresCommand(),
			serveCommand(),
			scheduleCommand(),
			fetchCommand(),
			migrateCommand(),
			seedCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("forecast command failed")
	}
}
