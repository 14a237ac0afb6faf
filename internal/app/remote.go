package app

import (
	"context"
	"fmt"

	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/remote/bigquery"
	"github.com/AriceNn/MonEra-sub000/internal/remote/mongo"
	"github.com/AriceNn/MonEra-sub000/internal/remote/postgres"
)

// postgresConnectRetries is how many pings Open makes before giving up.
const postgresConnectRetries = 5

// OpenRemote connects the configured sync target. It returns nil and no
// error for driver "none". Postgres schema migrations and BigQuery tables
// are brought up to date first.
func OpenRemote(ctx context.Context, cfg config.Config) (remote.Remote, error) {
	log := logger.ComponentFromContext(ctx, "app")

	switch cfg.Remote.Driver {
	case "none", "":
		return nil, nil

	case "postgres":
		if err := postgres.Migrate(ctx, cfg.Postgres.URL); err != nil {
			return nil, fmt.Errorf("OpenRemote: %w", err)
		}
		r, err := postgres.Open(ctx, cfg.Postgres.URL, postgresConnectRetries)
		if err != nil {
			return nil, fmt.Errorf("OpenRemote: %w", err)
		}
		log.Info().Msg("Connected to Postgres remote")
		return r, nil

	case "mongo":
		r, err := mongo.Open(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("OpenRemote: %w", err)
		}
		log.Info().Str("database", cfg.Mongo.Database).Msg("Connected to MongoDB remote")
		return r, nil

	case "bigquery":
		r, err := bigquery.Open(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset)
		if err != nil {
			return nil, fmt.Errorf("OpenRemote: %w", err)
		}
		if err := r.EnsureTables(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("OpenRemote: %w", err)
		}
		log.Info().Str("project", cfg.BigQuery.Project).Str("dataset", cfg.BigQuery.Dataset).Msg("Connected to BigQuery remote")
		return r, nil
	}
	return nil, fmt.Errorf("OpenRemote: %w: %q", remote.ErrUnknownDriver, cfg.Remote.Driver)
}
