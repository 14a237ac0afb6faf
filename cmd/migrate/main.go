package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/remote/bigquery"
	"github.com/AriceNn/MonEra-sub000/internal/remote/postgres"
)

// errNoSchema is returned for drivers that need no schema management.
var errNoSchema = errors.New("driver has no schema to migrate")

// migrate brings the configured remote's schema up to date: Postgres
// through the embedded migrations, BigQuery by creating missing tables.
func migrate(ctx context.Context, cfg config.Config) error {
	switch cfg.Remote.Driver {
	case "postgres":
		if cfg.Postgres.URL == "" {
			return errors.New("postgres.url is required")
		}
		return postgres.Migrate(ctx, cfg.Postgres.URL)

	case "bigquery":
		r, err := bigquery.Open(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			return err
		}
		defer r.Close()
		return r.EnsureTables(ctx)

	case "mongo", "none", "":
		return fmt.Errorf("%w: %q", errNoSchema, cfg.Remote.Driver)
	}
	return fmt.Errorf("%w: %q", remote.ErrUnknownDriver, cfg.Remote.Driver)
}

func main() {
	var (
		configPath = flag.String("config", "", "Path to a TOML config file (or set MONERA_CONFIG)")
		driver     = flag.String("driver", "", "Remote driver, overrides remote.driver")
		timeout    = flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *driver != "" {
		cfg.Remote.Driver = *driver
	}

	log := logger.NewFromConfig(logger.Config{Level: cfg.Log.Level, Format: logger.Format(cfg.Log.Format)})
	ctx, cancel := context.WithTimeout(logger.WithContext(context.Background(), log), *timeout)
	defer cancel()

	log.Info().Str("driver", cfg.Remote.Driver).Msg("Migrating remote schema")

	if err := migrate(ctx, cfg); err != nil {
		if errors.Is(err, errNoSchema) {
			log.Info().Str("driver", cfg.Remote.Driver).Msg("Nothing to migrate")
			return
		}
		log.Fatal().Err(err).Msg("Schema migration failed")
	}
	log.Info().Msg("Remote schema is up to date")
}
