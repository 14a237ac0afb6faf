// Package app assembles the storage backends, migration coordinator, sync
// engine and background workers from configuration. The executables under
// cmd/ share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/AriceNn/MonEra-sub000/internal/backup/gcs"
	"github.com/AriceNn/MonEra-sub000/internal/cloudsync"
	"github.com/AriceNn/MonEra-sub000/internal/config"
	"github.com/AriceNn/MonEra-sub000/internal/importer"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	jobsinmemory "github.com/AriceNn/MonEra-sub000/internal/jobs/inmemory"
	"github.com/AriceNn/MonEra-sub000/internal/kv"
	"github.com/AriceNn/MonEra-sub000/internal/kv/filestore"
	"github.com/AriceNn/MonEra-sub000/internal/kv/redisstore"
	"github.com/AriceNn/MonEra-sub000/internal/lease"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/migration"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
	"github.com/AriceNn/MonEra-sub000/internal/storage/flatstore"
	"github.com/AriceNn/MonEra-sub000/internal/storage/sqlstore"
)

// queueBuffer is how many sync jobs may wait before Publish blocks.
const queueBuffer = 100

// App holds the wired components of one process.
type App struct {
	Config config.Config

	// Slots backs the flat store and holds the process flags.
	Slots       kv.Store
	Flat        *flatstore.Store
	Structured  *sqlstore.Store
	Coordinator *migration.Coordinator
	Leases      *lease.Manager

	// Remote and Engine are nil when no remote is configured.
	Remote remote.Remote
	Engine *cloudsync.Engine

	JobStore     *jobsinmemory.Store
	Queue        *jobsinmemory.Queue
	Materializer *recurring.Materializer
	Importer     *importer.Importer

	backups *gcs.Sink
}

// New opens every configured backend. A structured backend that cannot be
// opened is tolerated in auto mode; the flat backend then stays active.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	log := logger.ComponentFromContext(ctx, "app")
	a := &App{Config: cfg}

	slots, err := openSlots(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Slots = slots
	a.Flat = flatstore.New(slots)
	a.Leases = lease.NewManager(slots, owner(), cfg.Sync.LeaseTTL)

	var structured storage.Adapter
	if cfg.Storage.Backend != "flat" {
		s, err := sqlstore.Open(ctx, cfg.Storage.SQLitePath)
		switch {
		case err == nil:
			a.Structured = s
			structured = s
		case cfg.Storage.Backend == "auto" && errors.Is(err, storage.ErrUnavailable):
			log.Warn().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("Structured storage unavailable, using flat storage")
		default:
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
	}

	migOpts := []migration.Option{
		migration.WithRetention(cfg.Migration.BackupRetention),
		migration.WithLeases(a.Leases),
	}
	if cfg.Backup.GCSBucket != "" {
		sink, err := gcs.Open(ctx, cfg.Backup.GCSBucket, cfg.Backup.GCSPrefix)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.backups = sink
		migOpts = append(migOpts, migration.WithBackupSink(sink))
	}
	a.Coordinator = migration.New(a.Flat, structured, slots, migOpts...)

	a.Remote, err = OpenRemote(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a.JobStore = jobsinmemory.NewStore()
	a.Queue = jobsinmemory.NewQueue(queueBuffer, a.JobStore)

	var matOpts []recurring.Option
	if a.Remote != nil {
		policy, err := cloudsync.ParsePullPolicy(cfg.Sync.PullPolicy)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.Engine = cloudsync.NewEngine(a.Coordinator, a.Remote, cloudsync.StaticIdentity(cfg.Sync.OwnerID),
			cloudsync.WithFlags(slots),
			cloudsync.WithLeases(a.Leases),
			cloudsync.WithPullPolicy(policy),
			cloudsync.WithCallTimeout(cfg.Sync.CallTimeout),
			cloudsync.WithRunTimeout(cfg.Sync.RunTimeout),
		)
		if err := a.Engine.Restore(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not restore last sync time")
		}
		matOpts = append(matOpts, recurring.WithPublisher(a.Queue))
	}
	a.Materializer = recurring.NewMaterializer(a.Coordinator, matOpts...)
	a.Importer = importer.New(a.Coordinator)

	log.Info().
		Str("flat_driver", cfg.Storage.Flat.Driver).
		Bool("structured", a.Structured != nil).
		Str("remote", cfg.Remote.Driver).
		Bool("offsite_backup", a.backups != nil).
		Msg("Application initialized")
	return a, nil
}

func openSlots(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.Storage.Flat.Driver {
	case "redis":
		s, err := redisstore.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("app.New: opening redis slots: %w", err)
		}
		return s, nil
	case "file", "":
		s, err := filestore.Open(cfg.Storage.Flat.Dir)
		if err != nil {
			return nil, fmt.Errorf("app.New: opening file slots: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("app.New: unknown flat driver %q", cfg.Storage.Flat.Driver)
}

// owner names this process in lease records.
func owner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s/%d", host, os.Getpid())
}

// Start runs the automatic migration when enabled and starts the sync job
// workers when a remote is configured.
func (a *App) Start(ctx context.Context) error {
	if a.Config.Migration.Auto {
		a.Coordinator.Start(ctx)
	}
	if a.Engine == nil {
		return nil
	}
	if err := a.Queue.Start(ctx, a.Engine.HandleJob); err != nil {
		return fmt.Errorf("app.Start: starting job queue: %w", err)
	}
	return nil
}

// Publisher returns the job queue when something consumes it, else nil.
func (a *App) Publisher() jobs.Publisher {
	if a.Engine == nil {
		return nil
	}
	return a.Queue
}

// Close stops the workers and releases every backend. It is safe to call
// on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Stop(context.Background()))
	}
	if a.Remote != nil {
		errs = append(errs, a.Remote.Close())
	}
	if a.backups != nil {
		errs = append(errs, a.backups.Close())
	}
	if a.Structured != nil {
		errs = append(errs, a.Structured.Close())
	}
	if a.Flat != nil {
		errs = append(errs, a.Flat.Close())
	} else if a.Slots != nil {
		errs = append(errs, a.Slots.Close())
	}
	return errors.Join(errs...)
}

// Backups returns the offsite backup sink, or nil when no bucket is set.
func (a *App) Backups() *gcs.Sink {
	return a.backups
}
