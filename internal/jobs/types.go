// Package jobs describes the sync jobs that mirror single local mutations to
// the remote between full syncs, and the queue and store contracts that
// carry them.
package jobs

import (
	"context"
	"time"
)

// JobType says what a job does to its record on the remote.
type JobType string

const (
	// JobTypePush uploads the record's current local state.
	JobTypePush JobType = "push"
	// JobTypeDelete removes the record from the remote.
	JobTypeDelete JobType = "delete"
)

// Family names the record collection a job targets.
type Family string

const (
	FamilyTransactions Family = "transactions"
	FamilyRecurring    Family = "recurring"
	FamilyBudgets      Family = "budgets"
)

// Valid reports whether f is one of the synced families.
func (f Family) Valid() bool {
	switch f {
	case FamilyTransactions, FamilyRecurring, FamilyBudgets:
		return true
	}
	return false
}

// JobStatus is the lifecycle position of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	// JobStatusRetrying marks a failed attempt waiting for its backoff.
	JobStatusRetrying JobStatus = "retrying"
)

// Terminal reports whether no further attempt will be made.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SyncJob mirrors one local mutation to the remote. Push jobs carry no
// payload: the handler reads the record when the job runs, so a burst of
// edits to one record needs one push.
type SyncJob struct {
	JobID    string  `json:"job_id"`
	Type     JobType `json:"type"`
	Family   Family  `json:"family"`
	RecordID string  `json:"record_id"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Key identifies the record a job targets, independent of the job.
func (j *SyncJob) Key() string {
	return string(j.Family) + "/" + j.RecordID
}

// NewPush returns a job that pushes the current local state of one record.
func NewPush(f Family, recordID string) *SyncJob {
	return &SyncJob{Type: JobTypePush, Family: f, RecordID: recordID}
}

// NewDelete returns a job that removes one record from the remote.
func NewDelete(f Family, recordID string) *SyncJob {
	return &SyncJob{Type: JobTypeDelete, Family: f, RecordID: recordID}
}

// Publisher enqueues jobs. Mutation paths depend on this alone.
type Publisher interface {
	Publish(ctx context.Context, job *SyncJob) error
	Close() error
}

// JobHandler runs one job. A returned error makes the job eligible for
// retry.
type JobHandler func(ctx context.Context, job *SyncJob) error

// Consumer runs handlers for queued jobs.
type Consumer interface {
	// Start launches the workers and returns without waiting.
	Start(ctx context.Context, handler JobHandler) error
	// Stop waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobStore records job state for inspection.
type JobStore interface {
	SaveJob(ctx context.Context, job *SyncJob) error
	GetJob(ctx context.Context, jobID string) (*SyncJob, error)
	// ListJobs returns matching jobs oldest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*SyncJob, error)
	// PruneJobs drops terminal jobs that finished before cutoff and
	// returns how many were dropped.
	PruneJobs(ctx context.Context, cutoff time.Time) (int, error)
}

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	RecordID string
	Status   JobStatus
	Limit    int
	Offset   int
}
