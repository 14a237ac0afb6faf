package inmemory

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
)

func waitForStatus(t *testing.T, store *Store, jobID string, want jobs.JobStatus) *jobs.SyncJob {
	t.Helper()
	var got *jobs.SyncJob
	require.Eventually(t, func() bool {
		job, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		got = job
		return job.Status == want
	}, 5*time.Second, 5*time.Millisecond)
	return got
}

func TestQueueProcessesJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithWorkers(2))

	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		handled.Add(1)
		return nil
	}))

	job := &jobs.SyncJob{Type: jobs.JobTypePush, Family: jobs.FamilyTransactions, RecordID: "tx-1"}
	require.NoError(t, q.Publish(ctx, job))
	require.NotEmpty(t, job.JobID)
	require.Equal(t, 3, job.MaxRetries)

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, int32(1), handled.Load())

	require.NoError(t, q.Stop(ctx))
	require.ErrorIs(t, q.Publish(ctx, &jobs.SyncJob{RecordID: "tx-2"}), ErrClosed)
}

func TestQueueRetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	defer q.Close()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		attempts.Add(1)
		return errors.New("remote down")
	}))

	job := &jobs.SyncJob{Type: jobs.JobTypeDelete, Family: jobs.FamilyBudgets, RecordID: "b-1", MaxRetries: 2}
	require.NoError(t, q.Publish(ctx, job))

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	require.Equal(t, 2, failed.RetryCount)
	require.Equal(t, "remote down", failed.Error)
	require.Equal(t, int32(3), attempts.Load())
}

func TestQueueRetrySucceeds(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store, WithBackoff(time.Millisecond))
	defer q.Close()

	var attempts atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}))

	job := &jobs.SyncJob{Type: jobs.JobTypePush, Family: jobs.FamilyRecurring, RecordID: "r-1"}
	require.NoError(t, q.Publish(ctx, job))

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	require.Equal(t, 1, done.RetryCount)
	require.Empty(t, done.Error)
}

func TestQueueCoalescesWaitingPushes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(10, store)
	defer q.Close()

	first := jobs.NewPush(jobs.FamilyTransactions, "tx-1")
	second := jobs.NewPush(jobs.FamilyTransactions, "tx-1")
	other := jobs.NewPush(jobs.FamilyBudgets, "tx-1")
	del := jobs.NewDelete(jobs.FamilyTransactions, "tx-1")
	for _, j := range []*jobs.SyncJob{first, second, other, del} {
		require.NoError(t, q.Publish(ctx, j))
	}
	require.Equal(t, first.JobID, second.JobID)
	require.NotEqual(t, first.JobID, other.JobID)
	require.NotEqual(t, first.JobID, del.JobID)

	queued, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, queued, 3)

	var handled atomic.Int32
	require.NoError(t, q.Start(ctx, func(ctx context.Context, job *jobs.SyncJob) error {
		handled.Add(1)
		return nil
	}))
	waitForStatus(t, store, first.JobID, jobs.JobStatusCompleted)

	// Once the waiting push has been picked up a new one is queued.
	third := jobs.NewPush(jobs.FamilyTransactions, "tx-1")
	require.NoError(t, q.Publish(ctx, third))
	require.NotEqual(t, first.JobID, third.JobID)
	waitForStatus(t, store, third.JobID, jobs.JobStatusCompleted)
	require.Eventually(t, func() bool { return handled.Load() == 4 }, 5*time.Second, 5*time.Millisecond)
}

func TestQueueLogsCoalescedPushToContextLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf).Level(zerolog.DebugLevel))

	q := NewQueue(10, nil)
	defer q.Close()

	first := jobs.NewPush(jobs.FamilyTransactions, "tx-1")
	second := jobs.NewPush(jobs.FamilyTransactions, "tx-1")
	require.NoError(t, q.Publish(ctx, first))
	require.NoError(t, q.Publish(ctx, second))

	require.Contains(t, buf.String(), "Push coalesced into waiting job")
	require.Contains(t, buf.String(), first.JobID)
}

func TestStoreListJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.SaveJob(ctx, &jobs.SyncJob{
			JobID:     id,
			RecordID:  "rec-" + id,
			Status:    jobs.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.SaveJob(ctx, &jobs.SyncJob{
		JobID:     "a",
		RecordID:  "rec-a",
		Status:    jobs.JobStatusFailed,
		Error:     "boom",
		CreatedAt: base.Add(time.Minute),
	}))

	all, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "c", all[0].JobID)

	failed, err := store.ListJobs(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "boom", failed[0].Error)

	page, err := store.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "a", page[0].JobID)

	byRecord, err := store.ListJobs(ctx, jobs.JobFilter{RecordID: "rec-b"})
	require.NoError(t, err)
	require.Len(t, byRecord, 1)

	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.Error(t, store.SaveJob(ctx, &jobs.SyncJob{}))
}

func TestStorePruneJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	cutoff := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)
	recent := cutoff.Add(time.Hour)

	for _, j := range []*jobs.SyncJob{
		{JobID: "done-old", Status: jobs.JobStatusCompleted, CompletedAt: &old},
		{JobID: "failed-old", Status: jobs.JobStatusFailed, CompletedAt: &old},
		{JobID: "retrying-old", Status: jobs.JobStatusRetrying, CompletedAt: &old},
		{JobID: "done-recent", Status: jobs.JobStatusCompleted, CompletedAt: &recent},
		{JobID: "pending", Status: jobs.JobStatusPending},
	} {
		require.NoError(t, store.SaveJob(ctx, j))
	}

	pruned, err := store.PruneJobs(ctx, cutoff)
	require.NoError(t, err)
	require.Equal(t, 2, pruned)

	left, err := store.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, left, 3)
}
