package cloudsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/kv"
	"github.com/AriceNn/MonEra-sub000/internal/kv/inmemory"
	"github.com/AriceNn/MonEra-sub000/internal/lease"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
	"github.com/AriceNn/MonEra-sub000/internal/remote"
	"github.com/AriceNn/MonEra-sub000/internal/remote/memory"
	"github.com/AriceNn/MonEra-sub000/internal/storage/flatstore"
	"github.com/AriceNn/MonEra-sub000/internal/storage/storagetest"
)

const userID = "user-1"

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second per reading.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type env struct {
	local  *flatstore.Store
	remote *memory.Remote
	flags  *inmemory.Store
	clock  *stepClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	localClock := &stepClock{t: base}
	return &env{
		local:  flatstore.New(inmemory.NewStore(), flatstore.WithClock(localClock.Now)),
		remote: memory.New(),
		flags:  inmemory.NewStore(),
		clock:  &stepClock{t: base.Add(24 * time.Hour)},
	}
}

func (e *env) engine(opts ...Option) *Engine {
	defaults := []Option{WithFlags(e.flags), WithClock(e.clock.Now)}
	return NewEngine(StaticLocal(e.local), e.remote, StaticIdentity(userID), append(defaults, opts...)...)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func seedLocal(t *testing.T, ctx context.Context, e *env) {
	t.Helper()
	for _, tx := range []domain.Transaction{
		storagetest.Transaction(t, "t1", "2024-02-01", "Food", domain.TypeExpense, "12.50"),
		storagetest.Transaction(t, "t2", "2024-02-02", "Salary", domain.TypeIncome, "2500"),
	} {
		_, err := e.local.AddTransaction(ctx, tx)
		require.NoError(t, err)
	}
	_, err := e.local.AddRecurring(ctx, storagetest.Recurring(t, "r1", "2024-01-31"))
	require.NoError(t, err)
	_, err = e.local.AddBudget(ctx, storagetest.Budget("b1", "Food"))
	require.NoError(t, err)
}

func remoteTx(t *testing.T, id, title string, updated time.Time) remote.TransactionRow {
	tx := storagetest.Transaction(t, id, "2024-02-10", "Travel", domain.TypeExpense, "80")
	tx.Title = title
	tx.CreatedAt = base.Add(-time.Hour)
	return remote.TransactionToRow(tx, userID, updated)
}

func TestSync_PushThenPull(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	require.NoError(t, e.remote.UpsertTransaction(ctx, remoteTx(t, "t9", "From phone", base)))

	res, err := e.engine().Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Empty(t, res.Errors)
	require.Equal(t, 5, res.Synced)
	require.Equal(t, 0, res.Conflicts)
	require.Equal(t, FamilyResult{Pushed: 2, Pulled: 1}, res.Families[jobs.FamilyTransactions])
	require.Equal(t, FamilyResult{Pushed: 1}, res.Families[jobs.FamilyRecurring])
	require.Equal(t, FamilyResult{Pushed: 1}, res.Families[jobs.FamilyBudgets])

	pulled, err := e.local.GetTransaction(ctx, "t9")
	require.NoError(t, err)
	require.NotNil(t, pulled)
	require.Equal(t, "From phone", pulled.Title)
	require.True(t, pulled.CreatedAt.Equal(base.Add(-time.Hour)))

	rows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		if row.ID == "t9" {
			continue
		}
		// Pushed rows carry the push time, not the local edit time.
		require.True(t, row.UpdatedAt.After(base.Add(24*time.Hour)), row.ID)
	}

	state := e.engine().State()
	require.False(t, state.IsSyncing)
}

func TestSync_Idempotent(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	engine := e.engine()

	_, err := engine.Sync(ctx)
	require.NoError(t, err)
	first, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)

	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 4, res.Synced)
	require.Equal(t, 0, res.Conflicts)

	second, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		require.True(t, remote.SameTransaction(remote.RowToTransaction(first[i]), remote.RowToTransaction(second[i])))
	}
	local, err := e.local.GetAllTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, local, 2)
}

func TestSync_PartialFailure(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	e.remote.FailUpsert("t2", true)
	engine := e.engine()

	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	require.Equal(t, RecordError{Family: jobs.FamilyTransactions, Op: OpPush, ID: "t2", Message: memory.ErrInjected.Error()}, res.Errors[0])
	require.Equal(t, 3, res.Synced)

	rows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "t1", rows[0].ID)

	state := engine.State()
	require.NotNil(t, state.LastSyncTime)
	require.Contains(t, state.LastError, "t2")
}

func TestSync_FetchFailureStillPushes(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	e.remote.FailFetch(true)

	res, err := e.engine().Sync(ctx)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Len(t, res.Errors, 3)
	for _, re := range res.Errors {
		require.Equal(t, OpFetch, re.Op)
	}
	require.Equal(t, 4, res.Synced)
	require.Equal(t, 4, e.remote.Upserts())
}

func TestSync_LocalWinsCountsConflicts(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	require.NoError(t, e.remote.UpsertTransaction(ctx, remoteTx(t, "t1", "Edited elsewhere", base.Add(48*time.Hour))))

	res, err := e.engine().Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 1, res.Conflicts)

	local, err := e.local.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "tx t1", local.Title)

	rows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	for _, row := range rows {
		if row.ID == "t1" {
			require.Equal(t, "tx t1", row.Title)
		}
	}
}

func TestSync_LastWriteWins(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)

	// t1 was edited remotely after the local edit; t2's remote copy is older.
	newer := remoteTx(t, "t1", "Remote edit", base.Add(48*time.Hour))
	older := remoteTx(t, "t2", "Stale", base.Add(-48*time.Hour))
	require.NoError(t, e.remote.UpsertTransaction(ctx, newer))
	require.NoError(t, e.remote.UpsertTransaction(ctx, older))
	upsertsBefore := e.remote.Upserts()

	res, err := e.engine(WithPullPolicy(PolicyLastWriteWins)).Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 2, res.Conflicts)
	require.Equal(t, FamilyResult{Pushed: 1, Pulled: 1, Conflicts: 2}, res.Families[jobs.FamilyTransactions])

	t1, err := e.local.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, "Remote edit", t1.Title)
	require.True(t, t1.UpdatedAt.Equal(base.Add(48*time.Hour)))

	rows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	for _, row := range rows {
		switch row.ID {
		case "t1":
			require.Equal(t, "Remote edit", row.Title)
		case "t2":
			require.Equal(t, "tx t2", row.Title)
		}
	}
	// t2, r1 and b1 pushed; t1 was not.
	require.Equal(t, upsertsBefore+3, e.remote.Upserts())
}

func TestSync_LastWriteWinsKeepsEditAcrossDevices(t *testing.T) {
	ctx := testContext(t)
	clock := &stepClock{t: base}
	shared := memory.New()

	type device struct {
		local  *flatstore.Store
		engine *Engine
	}
	newDevice := func() device {
		local := flatstore.New(inmemory.NewStore(), flatstore.WithClock(clock.Now))
		engine := NewEngine(StaticLocal(local), shared, StaticIdentity(userID),
			WithFlags(inmemory.NewStore()), WithClock(clock.Now), WithPullPolicy(PolicyLastWriteWins))
		return device{local: local, engine: engine}
	}
	a, b := newDevice(), newDevice()

	_, err := a.local.AddTransaction(ctx, storagetest.Transaction(t, "t1", "2024-02-01", "Food", domain.TypeExpense, "12.50"))
	require.NoError(t, err)
	res, err := a.engine.Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	res, err = b.engine.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Families[jobs.FamilyTransactions].Pulled)

	title := "Edited on A"
	edited, err := a.local.UpdateTransaction(ctx, "t1", domain.TransactionPatch{Title: &title})
	require.NoError(t, err)

	// B has no edits, but its resync restamps the remote row after A's edit.
	res, err = b.engine.Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	rows, err := shared.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].UpdatedAt.After(edited.UpdatedAt))

	res, err = a.engine.Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, FamilyResult{Pushed: 1, Conflicts: 1}, res.Families[jobs.FamilyTransactions])

	got, err := a.local.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, title, got.Title)
	rows, err = shared.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, title, rows[0].Title)

	// B never touched t1, so it takes A's edit.
	res, err = b.engine.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, FamilyResult{Pulled: 1, Conflicts: 1}, res.Families[jobs.FamilyTransactions])
	got, err = b.local.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, title, got.Title)
}

func TestSync_FailedRunKeepsLastSyncTime(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	engine := e.engine()

	first, err := engine.Sync(ctx)
	require.NoError(t, err)
	require.True(t, first.Success)

	e.remote.FailUpsert("t2", true)
	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	require.False(t, res.Success)

	raw, err := e.flags.Get(ctx, kv.KeySyncLast)
	require.NoError(t, err)
	require.Equal(t, first.FinishedAt.Format(time.RFC3339Nano), string(raw))
	require.True(t, engine.lastSynced(ctx).Equal(first.FinishedAt))
	require.True(t, engine.State().LastSyncTime.Equal(res.FinishedAt))
}

func TestRemoteWins(t *testing.T) {
	since := base
	tests := []struct {
		name          string
		since         time.Time
		local, remote time.Time
		want          bool
	}{
		{"first sync, remote newer", time.Time{}, base, base.Add(time.Second), true},
		{"first sync, local newer", time.Time{}, base.Add(time.Second), base, false},
		{"local edited since last sync", since, base.Add(time.Second), base.Add(time.Hour), false},
		{"local untouched", since, base.Add(-time.Hour), base.Add(-2 * time.Hour), true},
		{"local stamped at last sync", since, base, base.Add(time.Hour), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, remoteWins(tt.since, tt.local, tt.remote))
		})
	}
}

func TestSync_SkipsOverlappingRun(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	engine := e.engine()

	require.True(t, engine.guard.TryEnter())
	res, err := engine.Sync(ctx)
	engine.guard.Leave()
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 0, e.remote.Upserts())
}

func TestSync_SkipsWhenLeaseHeld(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)

	other := lease.NewManager(e.flags, "other-process", time.Minute)
	release, err := other.Acquire(ctx, LeaseName)
	require.NoError(t, err)

	engine := e.engine(WithLeases(lease.NewManager(e.flags, "this-process", time.Minute)))
	res, err := engine.Sync(ctx)
	require.NoError(t, err)
	require.True(t, res.Skipped)

	require.NoError(t, release(ctx))
	res, err = engine.Sync(ctx)
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.True(t, res.Success)

	held, err := other.Get(ctx, LeaseName)
	require.NoError(t, err)
	require.Nil(t, held)
}

func TestSync_PersistsLastSyncAndNotifies(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	engine := e.engine()

	var (
		mu     sync.Mutex
		states []State
	)
	unsubscribe := engine.Subscribe(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})
	defer unsubscribe()

	res, err := engine.Sync(ctx)
	require.NoError(t, err)

	mu.Lock()
	require.Len(t, states, 2)
	require.True(t, states[0].IsSyncing)
	require.False(t, states[1].IsSyncing)
	require.NotNil(t, states[1].LastSyncTime)
	require.Empty(t, states[1].LastError)
	mu.Unlock()

	raw, err := e.flags.Get(ctx, kv.KeySyncLast)
	require.NoError(t, err)
	require.Equal(t, res.FinishedAt.Format(time.RFC3339Nano), string(raw))

	restored := e.engine()
	require.Nil(t, restored.State().LastSyncTime)
	require.NoError(t, restored.Restore(ctx))
	require.NotNil(t, restored.State().LastSyncTime)
	require.True(t, restored.State().LastSyncTime.Equal(res.FinishedAt))
}

func TestSync_NoIdentity(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	engine := NewEngine(StaticLocal(e.local), e.remote, StaticIdentity(""))

	res, err := engine.Sync(ctx)
	require.ErrorIs(t, err, ErrNoIdentity)
	require.False(t, res.Success)
	require.NotEmpty(t, engine.State().LastError)
	require.False(t, engine.State().IsSyncing)
}

func TestPushTransaction(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	tx, err := e.local.AddTransaction(ctx, storagetest.Transaction(t, "t1", "2024-02-01", "Food", domain.TypeExpense, "3"))
	require.NoError(t, err)

	require.NoError(t, e.engine().PushTransaction(ctx, tx))
	rows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Amount.Equal(decimal.NewFromInt(3)))

	e.remote.FailUpsert("t1", true)
	require.ErrorIs(t, e.engine().PushTransaction(ctx, tx), memory.ErrInjected)
}

// jobRunner handles each published job synchronously.
type jobRunner struct{ handle jobs.JobHandler }

func (p jobRunner) Publish(ctx context.Context, job *jobs.SyncJob) error { return p.handle(ctx, job) }
func (p jobRunner) Close() error                                         { return nil }

func TestDeleteTemplateReachesRemote(t *testing.T) {
	tests := []struct {
		name      string
		cascade   bool
		wantTxRow int
	}{
		{"orphan", false, 1},
		{"cascade", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			e := newEnv(t)
			_, err := e.local.AddRecurring(ctx, storagetest.Recurring(t, "r1", "2024-01-01"))
			require.NoError(t, err)
			gen := storagetest.Transaction(t, "g1", "2024-01-01", "Housing", domain.TypeExpense, "900")
			gen.IsRecurring = true
			gen.RecurringID = "r1"
			_, err = e.local.AddTransaction(ctx, gen)
			require.NoError(t, err)
			engine := e.engine()
			_, err = engine.Sync(ctx)
			require.NoError(t, err)

			m := recurring.NewMaterializer(StaticLocal(e.local), recurring.WithPublisher(jobRunner{engine.HandleJob}))
			_, err = m.DeleteTemplate(ctx, "r1", tt.cascade)
			require.NoError(t, err)

			rows, err := e.remote.FetchRecurring(ctx, userID)
			require.NoError(t, err)
			require.Empty(t, rows)
			txRows, err := e.remote.FetchTransactions(ctx, userID)
			require.NoError(t, err)
			require.Len(t, txRows, tt.wantTxRow)
		})
	}
}

func TestDeleteRemote(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	engine := e.engine()
	_, err := engine.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, e.local.DeleteTransaction(ctx, "t1"))
	require.NoError(t, engine.DeleteRemote(ctx, jobs.FamilyTransactions, "t1"))
	require.NoError(t, e.local.DeleteBudget(ctx, "b1"))
	require.NoError(t, engine.DeleteRemote(ctx, jobs.FamilyBudgets, "b1"))
	require.NoError(t, engine.DeleteRemote(ctx, jobs.FamilyTransactions, "never-existed"))
	require.Error(t, engine.DeleteRemote(ctx, "accounts", "x"))

	txRows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	require.Len(t, txRows, 1)
	budgetRows, err := e.remote.FetchBudgets(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, budgetRows)

	// A later sync does not resurrect the deleted records.
	_, err = engine.Sync(ctx)
	require.NoError(t, err)
	got, err := e.local.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestHandleJob(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)
	seedLocal(t, ctx, e)
	engine := e.engine()

	require.NoError(t, engine.HandleJob(ctx, &jobs.SyncJob{Type: jobs.JobTypePush, Family: jobs.FamilyRecurring, RecordID: "r1"}))
	rows, err := e.remote.FetchRecurring(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// Deleted before the job ran: nothing to push.
	require.NoError(t, engine.HandleJob(ctx, &jobs.SyncJob{Type: jobs.JobTypePush, Family: jobs.FamilyTransactions, RecordID: "gone"}))

	require.NoError(t, engine.HandleJob(ctx, &jobs.SyncJob{Type: jobs.JobTypeDelete, Family: jobs.FamilyRecurring, RecordID: "r1"}))
	rows, err = e.remote.FetchRecurring(ctx, userID)
	require.NoError(t, err)
	require.Empty(t, rows)

	require.Error(t, engine.HandleJob(ctx, &jobs.SyncJob{Type: jobs.JobTypePush, Family: "accounts", RecordID: "x"}))
	require.Error(t, engine.HandleJob(ctx, &jobs.SyncJob{Type: "archive", Family: jobs.FamilyBudgets, RecordID: "b1"}))

	e.remote.FailUpsert("b1", true)
	require.ErrorIs(t, engine.HandleJob(ctx, &jobs.SyncJob{Type: jobs.JobTypePush, Family: jobs.FamilyBudgets, RecordID: "b1"}), memory.ErrInjected)
}

func TestCleanupDuplicates(t *testing.T) {
	ctx := testContext(t)
	e := newEnv(t)

	generated := func(id string, created time.Time) remote.TransactionRow {
		tx := storagetest.Transaction(t, id, "2024-02-01", "Housing", domain.TypeExpense, "900")
		tx.IsRecurring = true
		tx.RecurringID = "r1"
		tx.CreatedAt = created
		return remote.TransactionToRow(tx, userID, created)
	}
	rows := []remote.TransactionRow{
		generated("dup-late", base.Add(2*time.Hour)),
		generated("keep", base),
		generated("dup-b", base.Add(time.Hour)),
		remoteTx(t, "manual-1", "Manual", base),
		remoteTx(t, "manual-2", "Manual", base),
	}
	for _, row := range rows {
		require.NoError(t, e.remote.UpsertTransaction(ctx, row))
		_, err := e.local.AddTransaction(ctx, remote.RowToTransaction(row))
		require.NoError(t, err)
	}

	budget := func(id, category string, created time.Time) remote.BudgetRow {
		b := storagetest.Budget(id, category)
		b.CreatedAt = created
		return remote.BudgetToRow(b, userID, created)
	}
	for _, row := range []remote.BudgetRow{
		budget("food-second", "food", base.Add(time.Minute)),
		budget("food-first", "Food", base),
		budget("rent", "Rent", base),
	} {
		require.NoError(t, e.remote.UpsertBudget(ctx, row))
	}

	res, err := e.engine().CleanupDuplicates(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.TransactionsRemoved)
	require.Equal(t, 1, res.BudgetsRemoved)
	require.Empty(t, res.Errors)

	txRows, err := e.remote.FetchTransactions(ctx, userID)
	require.NoError(t, err)
	var ids []string
	for _, row := range txRows {
		ids = append(ids, row.ID)
	}
	require.ElementsMatch(t, []string{"keep", "manual-1", "manual-2"}, ids)

	local, err := e.local.GetAllTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, local, 3)

	budgetRows, err := e.remote.FetchBudgets(ctx, userID)
	require.NoError(t, err)
	require.Len(t, budgetRows, 2)
	require.Equal(t, "food-first", budgetRows[0].ID)
}

func TestParsePullPolicy(t *testing.T) {
	p, err := ParsePullPolicy("")
	require.NoError(t, err)
	require.Equal(t, PolicyLocalWins, p)

	p, err = ParsePullPolicy("last-write-wins")
	require.NoError(t, err)
	require.Equal(t, PolicyLastWriteWins, p)

	_, err = ParsePullPolicy("remote-wins")
	require.Error(t, err)
}
