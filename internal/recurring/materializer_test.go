package recurring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/kv/inmemory"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
	"github.com/AriceNn/MonEra-sub000/internal/storage/flatstore"
	"github.com/AriceNn/MonEra-sub000/internal/storage/storagetest"
)

type staticSource struct{ a storage.Adapter }

func (s staticSource) Active(context.Context) (storage.Adapter, error) { return s.a, nil }

// recordingPublisher collects published jobs.
type recordingPublisher struct {
	mu   sync.Mutex
	jobs []*jobs.SyncJob
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, job *jobs.SyncJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(f jobs.Family) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, j := range p.jobs {
		if j.Family == f {
			n++
		}
	}
	return n
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newStore() *flatstore.Store {
	return flatstore.New(inmemory.NewStore())
}

func TestMaterializer_CatchUp(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	_, err := store.AddRecurring(ctx, storagetest.Recurring(t, "r1", "2024-01-31"))
	require.NoError(t, err)

	pub := &recordingPublisher{}
	m := NewMaterializer(staticSource{store}, WithPublisher(pub))

	res, err := m.Run(ctx, storagetest.Date(t, "2024-04-15"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Templates)
	require.Equal(t, 3, res.Created)
	require.Empty(t, res.Errors)

	generated, err := store.GetTransactionsByRecurringID(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, generated, 3)
	for _, tx := range generated {
		require.True(t, tx.IsRecurring)
		require.Equal(t, InstanceID("r1", tx.Date), tx.ID)
		require.Equal(t, "rent r1", tx.Title)
	}

	tmpl, err := store.GetRecurring(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "2024-03-31", tmpl.LastGenerated.String())
	require.Equal(t, "2024-04-30", tmpl.NextOccurrence.String())

	require.Equal(t, 3, pub.count(jobs.FamilyTransactions))
	require.Equal(t, 1, pub.count(jobs.FamilyRecurring))

	// Nothing is due until the 30th.
	res, err = m.Run(ctx, storagetest.Date(t, "2024-04-15"))
	require.NoError(t, err)
	require.Equal(t, 0, res.Templates)
	require.Equal(t, 0, res.Created)
}

func TestMaterializer_SkipsExistingInstances(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	tmpl, err := store.AddRecurring(ctx, storagetest.Recurring(t, "r1", "2024-01-01"))
	require.NoError(t, err)

	// An earlier run wrote January but crashed before advancing the template.
	_, err = store.AddTransaction(ctx, Instance(tmpl, storagetest.Date(t, "2024-01-01")))
	require.NoError(t, err)

	res, err := NewMaterializer(staticSource{store}).Run(ctx, storagetest.Date(t, "2024-03-10"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Existing)
	require.Equal(t, 2, res.Created)

	all, err := store.GetAllTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestMaterializer_EndedTemplateCatchesUpToEndDate(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	tmpl := storagetest.Recurring(t, "r1", "2024-01-10")
	tmpl.EndDate = datePtr(t, "2024-02-20")
	_, err := store.AddRecurring(ctx, tmpl)
	require.NoError(t, err)

	today := storagetest.Date(t, "2024-06-01")
	require.False(t, IsDue(tmpl.NextOccurrence, tmpl.EndDate, tmpl.IsActive, today))

	res, err := NewMaterializer(staticSource{store}).Run(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 2, res.Created)

	generated, err := store.GetTransactionsByRecurringID(ctx, "r1")
	require.NoError(t, err)
	require.ElementsMatch(t,
		[]string{"2024-01-10", "2024-02-10"},
		[]string{generated[0].Date.String(), generated[1].Date.String()})
}

func TestMaterializer_PausedTemplate(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	tmpl := storagetest.Recurring(t, "r1", "2024-01-10")
	tmpl.IsActive = false
	_, err := store.AddRecurring(ctx, tmpl)
	require.NoError(t, err)

	res, err := NewMaterializer(staticSource{store}).Run(ctx, storagetest.Date(t, "2024-06-01"))
	require.NoError(t, err)
	require.Equal(t, 0, res.Created)
}

func TestMaterializer_PublishFailureIsNotFatal(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	_, err := store.AddRecurring(ctx, storagetest.Recurring(t, "r1", "2024-01-10"))
	require.NoError(t, err)

	pub := &recordingPublisher{err: errors.New("queue closed")}
	res, err := NewMaterializer(staticSource{store}, WithPublisher(pub)).Run(ctx, storagetest.Date(t, "2024-01-10"))
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Empty(t, res.Errors)
}

func TestMaterializer_SkipsOverlappingRun(t *testing.T) {
	ctx := testContext(t)
	m := NewMaterializer(staticSource{newStore()})
	require.True(t, m.guard.TryEnter())
	defer m.guard.Leave()

	res, err := m.Run(ctx, storagetest.Date(t, "2024-01-01"))
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestMakeRecurring(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	_, err := store.AddTransaction(ctx, storagetest.Transaction(t, "t1", "2024-01-15", "Housing", domain.TypeExpense, "900"))
	require.NoError(t, err)

	m := NewMaterializer(staticSource{store})
	tmpl, err := m.MakeRecurring(ctx, "t1", domain.FrequencyMonthly, nil)
	require.NoError(t, err)
	require.Equal(t, "2024-01-15", tmpl.LastGenerated.String())
	require.Equal(t, "2024-02-15", tmpl.NextOccurrence.String())

	linked, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	require.True(t, linked.IsRecurring)
	require.Equal(t, tmpl.ID, linked.RecurringID)

	res, err := m.Run(ctx, storagetest.Date(t, "2024-03-20"))
	require.NoError(t, err)
	require.Equal(t, 2, res.Created)

	generated, err := store.GetTransactionsByRecurringID(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, generated, 3)

	_, err = m.MakeRecurring(ctx, "missing", domain.FrequencyMonthly, nil)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateTemplate_RecomputesNext(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	tmpl := storagetest.Recurring(t, "r1", "2024-01-15")
	tmpl.LastGenerated = datePtr(t, "2024-01-15")
	tmpl.NextOccurrence = storagetest.Date(t, "2024-02-15")
	_, err := store.AddRecurring(ctx, tmpl)
	require.NoError(t, err)

	m := NewMaterializer(staticSource{store})
	weekly := domain.FrequencyWeekly
	bogus := storagetest.Date(t, "2030-01-01")
	updated, err := m.UpdateTemplate(ctx, "r1", domain.RecurringPatch{Frequency: &weekly, NextOccurrence: &bogus})
	require.NoError(t, err)
	require.Equal(t, domain.FrequencyWeekly, updated.Frequency)
	require.Equal(t, "2024-01-22", updated.NextOccurrence.String())

	// Pausing keeps the derivation.
	updated, err = m.UpdateTemplate(ctx, "r1", domain.RecurringPatch{IsActive: domain.Ptr(false)})
	require.NoError(t, err)
	require.False(t, updated.IsActive)
	require.Equal(t, "2024-01-22", updated.NextOccurrence.String())

	_, err = m.UpdateTemplate(ctx, "missing", domain.RecurringPatch{})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewTemplateFromTransaction_InvalidFrequency(t *testing.T) {
	tx := storagetest.Transaction(t, "t1", "2024-01-15", "Housing", domain.TypeExpense, "900")
	_, err := NewTemplateFromTransaction(tx, "fortnightly", nil)
	require.ErrorIs(t, err, domain.ErrInvalidFrequency)
}

func TestCreateTemplate_DerivesNext(t *testing.T) {
	ctx := testContext(t)
	store := newStore()
	pub := &recordingPublisher{}
	m := NewMaterializer(staticSource{store}, WithPublisher(pub))

	tmpl := storagetest.Recurring(t, "", "2024-05-10")
	tmpl.NextOccurrence = storagetest.Date(t, "2031-01-01")
	created, err := m.CreateTemplate(ctx, tmpl)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.Equal(t, "2024-05-10", created.NextOccurrence.String())
	require.Equal(t, 1, pub.count(jobs.FamilyRecurring))

	tmpl.Frequency = "hourly"
	_, err = m.CreateTemplate(ctx, tmpl)
	require.ErrorIs(t, err, domain.ErrInvalidFrequency)
}

func TestDeleteTemplate(t *testing.T) {
	tests := []struct {
		name        string
		cascade     bool
		wantRemoved int
		wantLeft    int
	}{
		{"orphans instances", false, 0, 2},
		{"cascades to instances", true, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			store := newStore()
			_, err := store.AddRecurring(ctx, storagetest.Recurring(t, "r1", "2024-01-01"))
			require.NoError(t, err)
			pub := &recordingPublisher{}
			m := NewMaterializer(staticSource{store}, WithPublisher(pub))
			_, err = m.Run(ctx, storagetest.Date(t, "2024-02-15"))
			require.NoError(t, err)

			removed, err := m.DeleteTemplate(ctx, "r1", tt.cascade)
			require.NoError(t, err)
			require.Equal(t, tt.wantRemoved, removed)

			got, err := store.GetRecurring(ctx, "r1")
			require.NoError(t, err)
			require.Nil(t, got)
			left, err := store.GetTransactionsByRecurringID(ctx, "r1")
			require.NoError(t, err)
			require.Len(t, left, tt.wantLeft)
		})
	}
}
