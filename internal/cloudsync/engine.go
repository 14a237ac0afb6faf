// Package cloudsync reconciles the local store with a remote collection:
// push every local record, then pull records the local side has not seen.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/guard"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/kv"
	"github.com/AriceNn/MonEra-sub000/internal/lease"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/status"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// LeaseName is the lease taken around a full sync when leases are configured.
const LeaseName = "sync"

// Default timeouts.
const (
	DefaultCallTimeout = 15 * time.Second
	DefaultRunTimeout  = 5 * time.Minute
)

// PullPolicy decides what happens to a record present on both sides.
type PullPolicy string

const (
	// PolicyLocalWins leaves existing local records untouched on pull.
	PolicyLocalWins PullPolicy = "local-wins"
	// PolicyLastWriteWins keeps local records edited since the last
	// successful sync and takes the remote copy of untouched ones. Before
	// the first successful sync the later updated_at wins.
	PolicyLastWriteWins PullPolicy = "last-write-wins"
)

// ParsePullPolicy maps a config value to a policy. Empty means local-wins.
func ParsePullPolicy(s string) (PullPolicy, error) {
	switch PullPolicy(s) {
	case "", PolicyLocalWins:
		return PolicyLocalWins, nil
	case PolicyLastWriteWins:
		return PolicyLastWriteWins, nil
	}
	return "", fmt.Errorf("unknown pull policy %q", s)
}

// ErrNoIdentity is returned when the identity collaborator has no user.
var ErrNoIdentity = errors.New("no sync identity")

// Identity supplies the owner id remote rows are scoped to.
type Identity interface {
	UserID(ctx context.Context) (string, error)
}

// StaticIdentity is an Identity fixed at construction.
type StaticIdentity string

// UserID implements the Identity interface.
func (s StaticIdentity) UserID(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoIdentity
	}
	return string(s), nil
}

// LocalSource resolves the adapter sync reads and writes. The migration
// coordinator satisfies it.
type LocalSource interface {
	Active(ctx context.Context) (storage.Adapter, error)
}

type staticLocal struct{ a storage.Adapter }

func (s staticLocal) Active(context.Context) (storage.Adapter, error) { return s.a, nil }

// StaticLocal always resolves to a.
func StaticLocal(a storage.Adapter) LocalSource { return staticLocal{a} }

// State is the process-wide sync status. LastSyncTime is the end of the
// last run, successful or not.
type State struct {
	IsSyncing    bool       `json:"isSyncing"`
	LastSyncTime *time.Time `json:"lastSyncTime,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
}

// Engine runs syncs for one identity against one remote.
type Engine struct {
	local    LocalSource
	remote   remote.Remote
	identity Identity

	flags       kv.Store
	leases      *lease.Manager
	policy      PullPolicy
	callTimeout time.Duration
	runTimeout  time.Duration
	now         func() time.Time

	guard  guard.Guard
	states *status.Broadcaster[State]

	mu     sync.Mutex
	synced time.Time // end of the last successful run
}

// Option configures an Engine.
type Option func(*Engine)

// WithCallTimeout bounds each remote call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithRunTimeout bounds a whole sync run.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.runTimeout = d
		}
	}
}

// WithPullPolicy selects how records present on both sides are resolved.
func WithPullPolicy(p PullPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithFlags persists the last sync time in store.
func WithFlags(store kv.Store) Option {
	return func(e *Engine) {
		e.flags = store
	}
}

// WithLeases makes full syncs take a cross-process lease.
func WithLeases(m *lease.Manager) Option {
	return func(e *Engine) {
		e.leases = m
	}
}

// WithClock overrides the time source used for push stamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine returns an engine over the given collaborators.
func NewEngine(local LocalSource, r remote.Remote, identity Identity, opts ...Option) *Engine {
	e := &Engine{
		local:       local,
		remote:      r,
		identity:    identity,
		policy:      PolicyLocalWins,
		callTimeout: DefaultCallTimeout,
		runTimeout:  DefaultRunTimeout,
		now:         domain.Now,
		states:      status.NewBroadcaster(State{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the current sync status.
func (e *Engine) State() State {
	return e.states.Current()
}

// Subscribe registers fn for sync status changes.
func (e *Engine) Subscribe(fn func(State)) func() {
	return e.states.Subscribe(fn)
}

// Restore loads the persisted last sync time into the state.
func (e *Engine) Restore(ctx context.Context) error {
	if e.flags == nil {
		return nil
	}
	raw, err := e.flags.Get(ctx, kv.KeySyncLast)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("Restore: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return fmt.Errorf("Restore: parsing %s: %w", kv.KeySyncLast, err)
	}
	t = t.UTC()
	e.mu.Lock()
	e.synced = t
	e.mu.Unlock()
	e.states.Update(func(s State) State {
		s.LastSyncTime = &t
		return s
	})
	return nil
}

// lastSynced returns when the last successful run ended, or the zero time.
// The flag store wins over memory so that processes sharing it agree.
func (e *Engine) lastSynced(ctx context.Context) time.Time {
	e.mu.Lock()
	synced := e.synced
	e.mu.Unlock()
	if e.flags == nil {
		return synced
	}

	raw, err := e.flags.Get(ctx, kv.KeySyncLast)
	if errors.Is(err, kv.ErrNotFound) {
		return synced
	}
	if err == nil {
		var t time.Time
		if t, err = time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			return t.UTC()
		}
	}
	log := logger.FromContext(ctx)
	log.Warn().Err(err).Msg("Failed to read last sync time")
	return synced
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// Op names the step a RecordError happened in.
type Op string

const (
	OpList   Op = "list"
	OpFetch  Op = "fetch"
	OpPush   Op = "push"
	OpPull   Op = "pull"
	OpDelete Op = "delete"
)

// RecordError is one failed step. ID is empty for whole-family failures.
type RecordError struct {
	Family  jobs.Family `json:"family"`
	Op      Op          `json:"op"`
	ID      string      `json:"id,omitempty"`
	Message string      `json:"message"`
}

func (e RecordError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %s", e.Family, e.Op, e.Message)
	}
	return fmt.Sprintf("%s %s %s: %s", e.Family, e.Op, e.ID, e.Message)
}

// FamilyResult counts what happened to one family.
type FamilyResult struct {
	Pushed    int `json:"pushed"`
	Pulled    int `json:"pulled"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

// Result aggregates a sync run. Success is false when any record failed;
// records that did sync stay synced.
type Result struct {
	Success    bool                         `json:"success"`
	Synced     int                          `json:"synced"`
	Conflicts  int                          `json:"conflicts"`
	Errors     []RecordError                `json:"errors"`
	Families   map[jobs.Family]FamilyResult `json:"families"`
	Skipped    bool                         `json:"skipped,omitempty"`
	StartedAt  time.Time                    `json:"startedAt"`
	FinishedAt time.Time                    `json:"finishedAt"`
}

func (r *Result) add(f jobs.Family, fr FamilyResult, errs []RecordError) {
	fr.Errors = len(errs)
	r.Families[f] = fr
	r.Synced += fr.Pushed + fr.Pulled
	r.Conflicts += fr.Conflicts
	r.Errors = append(r.Errors, errs...)
}

// enter claims the in-process guard and, when configured, the lease.
func (e *Engine) enter(ctx context.Context) (leave func(), ok bool, err error) {
	if !e.guard.TryEnter() {
		return nil, false, nil
	}
	if e.leases == nil {
		return e.guard.Leave, true, nil
	}
	release, err := e.leases.Acquire(ctx, LeaseName)
	if errors.Is(err, lease.ErrHeld) {
		e.guard.Leave()
		return nil, false, nil
	}
	if err != nil {
		e.guard.Leave()
		return nil, false, err
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log := logger.ComponentFromContext(ctx, "sync")
			log.Warn().Err(err).Msg("Failed to release sync lease")
		}
		e.guard.Leave()
	}, true, nil
}

// Sync runs push-then-pull for transactions, recurring templates and budgets.
// A run that overlaps another is skipped without error. Per-record failures
// are reported in the result, not as an error.
func (e *Engine) Sync(ctx context.Context) (Result, error) {
	log := logger.ComponentFromContext(ctx, "sync")
	ctx = logger.WithContext(ctx, log)

	leave, ok, err := e.enter(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("Sync: %w", err)
	}
	if !ok {
		log.Info().Msg("Sync already running, skipping")
		return Result{Skipped: true}, nil
	}
	defer leave()

	res := Result{
		Families:  make(map[jobs.Family]FamilyResult),
		Errors:    []RecordError{},
		StartedAt: e.now(),
	}
	e.states.Update(func(s State) State {
		s.IsSyncing = true
		return s
	})

	runErr := e.run(ctx, &res)

	res.FinishedAt = e.now()
	res.Success = runErr == nil && len(res.Errors) == 0
	e.finish(ctx, res, runErr)

	log.Info().
		Bool("success", res.Success).
		Int("synced", res.Synced).
		Int("conflicts", res.Conflicts).
		Int("errors", len(res.Errors)).
		Dur("duration", res.FinishedAt.Sub(res.StartedAt)).
		Msg("Sync completed")

	if runErr != nil {
		return res, fmt.Errorf("Sync: %w", runErr)
	}
	return res, nil
}

func (e *Engine) run(ctx context.Context, res *Result) error {
	userID, err := e.identity.UserID(ctx)
	if err != nil {
		return err
	}
	local, err := e.local.Active(ctx)
	if err != nil {
		return fmt.Errorf("resolving local store: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.runTimeout)
	defer cancel()
	since := e.lastSynced(runCtx)

	fr, errs := reconcile(runCtx, e, transactionFamily(local, e.remote), userID, since)
	res.add(jobs.FamilyTransactions, fr, errs)

	fr, errs = reconcile(runCtx, e, recurringFamily(local, e.remote), userID, since)
	res.add(jobs.FamilyRecurring, fr, errs)

	fr, errs = reconcile(runCtx, e, budgetFamily(local, e.remote), userID, since)
	res.add(jobs.FamilyBudgets, fr, errs)

	return nil
}

// finish records the outcome in the state. Only a successful run moves the
// last sync time in memory and in the flag store: a record whose push failed
// must still count as edited on the next run.
func (e *Engine) finish(ctx context.Context, res Result, runErr error) {
	finished := res.FinishedAt
	lastError := ""
	switch {
	case runErr != nil:
		lastError = runErr.Error()
	case len(res.Errors) > 0:
		lastError = fmt.Sprintf("%d records failed; first: %s", len(res.Errors), res.Errors[0].Error())
	}

	if res.Success {
		e.mu.Lock()
		e.synced = finished
		e.mu.Unlock()
	}
	if res.Success && e.flags != nil {
		stamp := []byte(finished.UTC().Format(time.RFC3339Nano))
		if err := e.flags.Set(context.WithoutCancel(ctx), kv.KeySyncLast, stamp); err != nil {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Msg("Failed to persist last sync time")
		}
	}
	e.states.Publish(State{
		IsSyncing:    false,
		LastSyncTime: &finished,
		LastError:    lastError,
	})
}
