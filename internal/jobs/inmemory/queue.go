// Package inmemory provides a channel-backed job queue and a map-backed job
// store for single-process deployments and tests.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/logger"
)

// ErrClosed is returned when publishing to a stopped queue.
var ErrClosed = errors.New("queue is closed")

const defaultMaxRetries = 3

// Queue distributes sync jobs to a pool of workers over a buffered channel
// and retries failed jobs with linear backoff.
//
// A push for a record that already has a push waiting in the channel is
// coalesced into the waiting job: pushes read the record when they run, so
// the waiting one already carries the newer state.
type Queue struct {
	jobChan   chan *jobs.SyncJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	store     jobs.JobStore

	mu      sync.Mutex
	closed  bool
	pending map[string]string // job key -> id of the waiting push

	workers int
	backoff time.Duration
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets how many jobs run concurrently. Default 5.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the base retry delay, multiplied by the retry count.
// Default one second.
func WithBackoff(d time.Duration) QueueOption {
	return func(q *Queue) { q.backoff = d }
}

// NewQueue creates a queue holding up to bufferSize waiting jobs before
// Publish blocks. store may be nil.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...QueueOption) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.SyncJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		pending:   make(map[string]string),
		workers:   5,
		backoff:   time.Second,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Publish enqueues job, filling in its id, status, creation time and retry
// limit. A coalesced push gets the id of the job it joined.
func (q *Queue) Publish(ctx context.Context, job *jobs.SyncJob) error {
	fresh := job.JobID == ""

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if fresh && job.Type == jobs.JobTypePush {
		if id, ok := q.pending[job.Key()]; ok {
			q.mu.Unlock()
			job.JobID = id
			log := logger.FromContext(ctx)
			log.Debug().
				Str("job_id", id).
				Str("record_id", job.RecordID).
				Msg("Push coalesced into waiting job")
			return nil
		}
	}
	if fresh {
		job.JobID = uuid.NewString()
	}
	if job.Type == jobs.JobTypePush {
		q.pending[job.Key()] = job.JobID
	}
	q.mu.Unlock()

	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = defaultMaxRetries
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			q.forget(job)
			return fmt.Errorf("Publish: saving job: %w", err)
		}
	}

	// The queue owns its own copy from here on.
	queued := *job
	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		q.forget(job)
		return ctx.Err()
	case <-q.closeChan:
		q.forget(job)
		return ErrClosed
	}
}

// forget drops job from the waiting pushes, if it is the one recorded.
func (q *Queue) forget(job *jobs.SyncJob) {
	q.mu.Lock()
	if q.pending[job.Key()] == job.JobID {
		delete(q.pending, job.Key())
	}
	q.mu.Unlock()
}

// Start launches the workers and returns.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			// A mutation made while this push runs needs a push of its own.
			q.forget(job)
			q.process(ctx, job, handler)
		}
	}
}

// process runs one attempt and records the outcome, scheduling a retry
// while attempts remain.
func (q *Queue) process(ctx context.Context, job *jobs.SyncJob, handler jobs.JobHandler) {
	log := logger.FromContext(ctx).With().
		Str("job_id", job.JobID).
		Str("type", string(job.Type)).
		Str("record", job.Key()).
		Logger()

	started := time.Now().UTC()
	job.Status = jobs.JobStatusRunning
	job.StartedAt = &started
	q.save(ctx, job)

	err := handler(ctx, job)

	finished := time.Now().UTC()
	job.CompletedAt = &finished

	switch {
	case err == nil:
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		q.save(ctx, job)

	case job.RetryCount < job.MaxRetries:
		job.Error = err.Error()
		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Sync job failed, retrying")

		// Requeue only after the retrying state is stored so it cannot
		// overwrite a later attempt.
		q.save(ctx, job)
		next := *job
		next.Status = jobs.JobStatusPending
		next.StartedAt = nil
		next.CompletedAt = nil
		time.AfterFunc(time.Duration(next.RetryCount)*q.backoff, func() {
			if err := q.Publish(ctx, &next); err != nil && !errors.Is(err, ErrClosed) {
				log.Warn().Err(err).Msg("Failed to requeue sync job")
			}
		})

	default:
		job.Error = err.Error()
		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Int("attempts", job.RetryCount+1).Msg("Sync job failed permanently")
		q.save(ctx, job)
	}
}

func (q *Queue) save(ctx context.Context, job *jobs.SyncJob) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(ctx, job); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to record job state")
	}
}

// Stop closes the queue and waits for in-flight jobs. Jobs still waiting
// in the channel are abandoned; the next full sync covers them.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements jobs.Publisher.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
