package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
)

// jobRetention is how long finished sync jobs stay inspectable.
const jobRetention = 24 * time.Hour

// Scheduler returns a cron runner, not yet started, carrying the periodic
// materialization and, with a remote, the periodic sync and job pruning. An
// empty schedule disables that task. ctx is passed to every run.
func (a *App) Scheduler(ctx context.Context) (*cron.Cron, error) {
	log := logger.ComponentFromContext(ctx, "scheduler")
	cronLog := cron.PrintfLogger(&log)

	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	if spec := a.Config.Recurring.Schedule; spec != "" {
		if _, err := c.AddFunc(spec, func() { a.Materialize(ctx, time.Now()) }); err != nil {
			return nil, fmt.Errorf("Scheduler: recurring schedule %q: %w", spec, err)
		}
	}
	if spec := a.Config.Sync.Schedule; spec != "" && a.Engine != nil {
		if _, err := c.AddFunc(spec, func() { a.Sync(ctx) }); err != nil {
			return nil, fmt.Errorf("Scheduler: sync schedule %q: %w", spec, err)
		}
	}
	if a.Engine != nil {
		if _, err := c.AddFunc("@hourly", func() { a.PruneJobs(ctx, time.Now()) }); err != nil {
			return nil, fmt.Errorf("Scheduler: job pruning: %w", err)
		}
	}
	return c, nil
}

// Materialize runs one recurring pass for the day containing now and logs
// the outcome.
func (a *App) Materialize(ctx context.Context, now time.Time) {
	log := logger.ComponentFromContext(ctx, "scheduler")

	res, err := a.Materializer.Run(ctx, recurring.Today(now))
	if err != nil {
		log.Error().Err(err).Msg("Recurring materialization failed")
		return
	}
	if res.Skipped {
		return
	}
	log.Info().
		Int("templates", res.Templates).
		Int("created", res.Created).
		Int("existing", res.Existing).
		Int("errors", len(res.Errors)).
		Msg("Recurring materialization finished")
}

// Sync runs one full sync and logs the outcome. It does nothing without a
// remote.
func (a *App) Sync(ctx context.Context) {
	if a.Engine == nil {
		return
	}
	log := logger.ComponentFromContext(ctx, "scheduler")

	res, err := a.Engine.Sync(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduled sync failed")
		return
	}
	if res.Skipped {
		return
	}
	log.Info().
		Bool("success", res.Success).
		Int("synced", res.Synced).
		Int("conflicts", res.Conflicts).
		Int("errors", len(res.Errors)).
		Msg("Scheduled sync finished")
}

// PruneJobs drops finished sync jobs older than the retention window.
func (a *App) PruneJobs(ctx context.Context, now time.Time) {
	log := logger.ComponentFromContext(ctx, "scheduler")

	n, err := a.JobStore.PruneJobs(ctx, now.Add(-jobRetention))
	if err != nil {
		log.Error().Err(err).Msg("Job pruning failed")
		return
	}
	if n > 0 {
		log.Debug().Int("pruned", n).Msg("Pruned finished sync jobs")
	}
}
