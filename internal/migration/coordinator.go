package migration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/guard"
	"github.com/AriceNn/MonEra-sub000/internal/kv"
	"github.com/AriceNn/MonEra-sub000/internal/lease"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/status"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// DefaultRetention is how long a backup is kept after migration.
const DefaultRetention = 30 * 24 * time.Hour

// LeaseName is the advisory lease taken around migrate and rollback.
const LeaseName = "migration"

// BackupSink receives a copy of every backup blob, e.g. an object store.
type BackupSink interface {
	StoreBackup(ctx context.Context, name string, data []byte) error
}

// Coordinator owns the migration flag and decides which adapter is active.
type Coordinator struct {
	flat       storage.Adapter
	structured storage.Adapter
	store      kv.Store

	retention time.Duration
	sink      BackupSink
	leases    *lease.Manager
	now       func() time.Time

	guard   guard.Guard
	writes  sync.RWMutex // held exclusively while migrate or rollback moves data
	started sync.Once
	states  *status.Broadcaster[State]
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetention sets how long backups are retained.
func WithRetention(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithBackupSink sends every backup to sink as well as the kv store.
func WithBackupSink(sink BackupSink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

// WithLeases makes migrate and rollback take a cross-process lease.
func WithLeases(m *lease.Manager) Option {
	return func(c *Coordinator) {
		c.leases = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New returns a coordinator. structured may be nil when the structured
// backend could not be opened; the flat backend is then always active.
func New(flat, structured storage.Adapter, store kv.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		flat:       flat,
		structured: structured,
		store:      store,
		retention:  DefaultRetention,
		now:        domain.Now,
		states:     status.NewBroadcaster(StateNotStarted),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers fn for migration state changes.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	return c.states.Subscribe(fn)
}

// State returns the persisted flag, or the detected state when no flag has
// been stored yet.
func (c *Coordinator) State(ctx context.Context) (State, error) {
	data, err := c.store.Get(ctx, kv.KeyMigrationStatus)
	if errors.Is(err, kv.ErrNotFound) {
		return c.Detect(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("State: read flag: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil || !s.Valid() {
		return c.Detect(ctx)
	}
	return s, nil
}

// Detect probes both backends. It does not persist the result.
func (c *Coordinator) Detect(ctx context.Context) (State, error) {
	flatStats, err := c.flat.GetStats(ctx)
	if err != nil {
		return "", fmt.Errorf("Detect: flat stats: %w", err)
	}
	structuredHasData := false
	if c.structured != nil {
		stats, err := c.structured.GetStats(ctx)
		if err != nil {
			return "", fmt.Errorf("Detect: structured stats: %w", err)
		}
		structuredHasData = stats.HasData()
	}

	switch {
	case flatStats.HasData() && structuredHasData:
		return StateBoth, nil
	case structuredHasData:
		return StateStructuredOnly, nil
	case flatStats.HasData():
		return StateFlatOnly, nil
	default:
		return StateNotStarted, nil
	}
}

func (c *Coordinator) setState(ctx context.Context, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, kv.KeyMigrationStatus, data); err != nil {
		return fmt.Errorf("write flag %s: %w", s, err)
	}
	c.states.Publish(s)
	return nil
}

// Active returns the adapter callers should use in the current state. Its
// writes block while this coordinator is migrating or rolling back and are
// then routed to the backend that came out active.
func (c *Coordinator) Active(ctx context.Context) (storage.Adapter, error) {
	if c.structured == nil {
		return c.flat, nil
	}
	a, err := c.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return &guarded{Adapter: a, c: c}, nil
}

func (c *Coordinator) resolve(ctx context.Context) (storage.Adapter, error) {
	if c.structured == nil {
		return c.flat, nil
	}
	s, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	switch s {
	case StateFlatOnly, StateMigrating:
		return c.flat, nil
	default:
		return c.structured, nil
	}
}

// Flat returns the flat adapter.
func (c *Coordinator) Flat() storage.Adapter {
	return c.flat
}

// Structured returns the structured adapter, or nil when unavailable.
func (c *Coordinator) Structured() storage.Adapter {
	return c.structured
}

// enter claims the in-process guard and, when configured, the lease. ok is
// false when another run holds either.
func (c *Coordinator) enter(ctx context.Context) (leave func(), ok bool, err error) {
	if !c.guard.TryEnter() {
		return nil, false, nil
	}
	if c.leases == nil {
		return c.guard.Leave, true, nil
	}
	release, err := c.leases.Acquire(ctx, LeaseName)
	if errors.Is(err, lease.ErrHeld) {
		c.guard.Leave()
		return nil, false, nil
	}
	if err != nil {
		c.guard.Leave()
		return nil, false, err
	}
	return func() {
		log := logger.ComponentFromContext(ctx, "migration")
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("Failed to release migration lease")
		}
		c.guard.Leave()
	}, true, nil
}

// Migrate copies the flat dataset into the structured backend. It is a
// no-op unless the state is flat-only or migrating. A concurrent call is
// skipped without error.
func (c *Coordinator) Migrate(ctx context.Context) (Result, error) {
	log := logger.ComponentFromContext(ctx, "migration")

	leave, ok, err := c.enter(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Migrate: %w", err)
	}
	if !ok {
		log.Debug().Msg("Migration already running, skipping")
		return Result{Skipped: true}, nil
	}
	defer leave()

	if c.structured == nil {
		return Result{}, fmt.Errorf("Migrate: %w", ErrStructuredUnavailable)
	}

	from, err := c.State(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Migrate: %w", err)
	}
	if !from.needsMigration() {
		log.Debug().Str("state", string(from)).Msg("Nothing to migrate")
		return Result{From: from, To: from}, nil
	}

	log.Info().Str("from", string(from)).Msg("Starting migration to structured storage")

	c.writes.Lock()
	defer c.writes.Unlock()

	if err := c.setState(ctx, StateMigrating); err != nil {
		return Result{}, fmt.Errorf("Migrate: %w", err)
	}

	// fail resets the flag so the flat backend stays active.
	fail := func(step string, cause error) (Result, error) {
		if err := c.setState(ctx, StateFlatOnly); err != nil {
			log.Error().Err(err).Msg("Failed to reset migration flag")
		}
		log.Error().Err(cause).Str("step", step).Msg("Migration failed")
		return Result{From: from, To: StateFlatOnly}, fmt.Errorf("Migrate: %s: %w", step, cause)
	}

	snap, err := c.flat.ExportAll(ctx)
	if err != nil {
		return fail("export", err)
	}
	if err := c.writeBackup(ctx, snap); err != nil {
		return fail("backup", err)
	}
	if err := c.structured.ImportAll(ctx, snap); err != nil {
		return fail("import", err)
	}

	expected := snap.Stats()
	actual, err := c.structured.GetStats(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Could not read structured stats, leaving flag at migrating")
		return Result{From: from, To: StateMigrating}, fmt.Errorf("Migrate: verify: %w", err)
	}
	if !expected.SameCounts(actual) {
		verr := &VerificationError{Expected: expected, Actual: actual}
		log.Error().Err(verr).Msg("Migration verification failed, leaving flag at migrating")
		return Result{From: from, To: StateMigrating, Stats: actual}, verr
	}

	if err := c.setState(ctx, StateStructuredOnly); err != nil {
		return Result{From: from, To: StateMigrating, Stats: actual}, fmt.Errorf("Migrate: %w", err)
	}

	log.Info().
		Int("transactions", actual.Transactions).
		Int("budgets", actual.Budgets).
		Int("recurring", actual.Recurring).
		Msg("Migration completed")

	return Result{From: from, To: StateStructuredOnly, Stats: actual}, nil
}

func (c *Coordinator) writeBackup(ctx context.Context, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	takenAt := c.now().UTC()
	stamp, err := json.Marshal(takenAt)
	if err != nil {
		return fmt.Errorf("encode backup timestamp: %w", err)
	}
	if err := c.store.Set(ctx, kv.KeyMigrationBackup, data); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := c.store.Set(ctx, kv.KeyMigrationTimestamp, stamp); err != nil {
		return fmt.Errorf("write backup timestamp: %w", err)
	}

	if c.sink != nil {
		name := fmt.Sprintf("migration-backup-%s.json", takenAt.Format("20060102T150405Z"))
		if err := c.sink.StoreBackup(ctx, name, data); err != nil {
			log := logger.ComponentFromContext(ctx, "migration")
			log.Warn().Err(err).Str("object", name).Msg("Failed to copy backup off-site")
		}
	}
	return nil
}

// Backup returns the stored backup snapshot and when it was taken, or nil
// when there is none.
func (c *Coordinator) Backup(ctx context.Context) (*domain.Snapshot, *time.Time, error) {
	data, err := c.store.Get(ctx, kv.KeyMigrationBackup)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("Backup: read: %w", err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("Backup: decode: %w", err)
	}

	var takenAt *time.Time
	if raw, err := c.store.Get(ctx, kv.KeyMigrationTimestamp); err == nil {
		var ts time.Time
		if json.Unmarshal(raw, &ts) == nil {
			takenAt = &ts
		}
	}
	return &snap, takenAt, nil
}

// Rollback restores the backup into the flat backend and empties the
// structured one. The backup itself is kept.
func (c *Coordinator) Rollback(ctx context.Context) (Result, error) {
	log := logger.ComponentFromContext(ctx, "migration")

	leave, ok, err := c.enter(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Rollback: %w", err)
	}
	if !ok {
		log.Debug().Msg("Migration already running, skipping rollback")
		return Result{Skipped: true}, nil
	}
	defer leave()

	snap, _, err := c.Backup(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Rollback: %w", err)
	}
	if snap == nil {
		return Result{}, fmt.Errorf("Rollback: %w", ErrNoBackup)
	}

	from, err := c.State(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Rollback: %w", err)
	}

	c.writes.Lock()
	defer c.writes.Unlock()

	if c.structured != nil {
		if err := c.structured.ClearAll(ctx); err != nil {
			return Result{}, fmt.Errorf("Rollback: clear structured: %w", err)
		}
	}
	if err := c.flat.ImportAll(ctx, *snap); err != nil {
		return Result{}, fmt.Errorf("Rollback: restore flat: %w", err)
	}
	if err := c.setState(ctx, StateFlatOnly); err != nil {
		return Result{}, fmt.Errorf("Rollback: %w", err)
	}

	stats := snap.Stats()
	log.Info().
		Str("from", string(from)).
		Int("transactions", stats.Transactions).
		Int("budgets", stats.Budgets).
		Int("recurring", stats.Recurring).
		Msg("Rolled back to flat storage")

	return Result{From: from, To: StateFlatOnly, Stats: stats}, nil
}

// CleanupBackup removes the backup once the retention window has passed, or
// immediately when force is set. It reports whether anything was removed.
func (c *Coordinator) CleanupBackup(ctx context.Context, force bool) (bool, error) {
	snap, takenAt, err := c.Backup(ctx)
	if err != nil {
		return false, fmt.Errorf("CleanupBackup: %w", err)
	}
	if snap == nil {
		return false, nil
	}
	if !force && takenAt != nil && c.now().Sub(*takenAt) < c.retention {
		return false, nil
	}

	if err := c.store.Delete(ctx, kv.KeyMigrationBackup); err != nil {
		return false, fmt.Errorf("CleanupBackup: delete backup: %w", err)
	}
	if err := c.store.Delete(ctx, kv.KeyMigrationTimestamp); err != nil {
		return false, fmt.Errorf("CleanupBackup: delete timestamp: %w", err)
	}

	log := logger.ComponentFromContext(ctx, "migration")
	log.Info().Bool("forced", force).Msg("Removed migration backup")
	return true, nil
}

// Status gathers the state, backup presence and per-backend counts.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	s, err := c.State(ctx)
	if err != nil {
		return Status{}, err
	}
	snap, takenAt, err := c.Backup(ctx)
	if err != nil {
		return Status{}, err
	}
	flatStats, err := c.flat.GetStats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("Status: flat stats: %w", err)
	}

	out := Status{State: s, HasBackup: snap != nil, BackupTakenAt: takenAt, FlatStats: flatStats}
	if c.structured != nil {
		stats, err := c.structured.GetStats(ctx)
		if err != nil {
			return Status{}, fmt.Errorf("Status: structured stats: %w", err)
		}
		out.StructuredStats = &stats
	}
	return out, nil
}

// Start runs the automatic migration attempt, once per Coordinator. Errors
// are logged, not returned; the next process start retries.
func (c *Coordinator) Start(ctx context.Context) {
	c.started.Do(func() {
		log := logger.ComponentFromContext(ctx, "migration")

		s, err := c.State(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Could not determine migration state")
			return
		}
		c.states.Publish(s)

		if c.structured == nil || !s.needsMigration() {
			log.Debug().Str("state", string(s)).Bool("structured_available", c.structured != nil).Msg("Automatic migration not needed")
			return
		}
		if _, err := c.Migrate(ctx); err != nil {
			log.Error().Err(err).Msg("Automatic migration failed, will retry on next start")
		}
	})
}
