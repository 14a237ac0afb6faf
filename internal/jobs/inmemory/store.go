package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AriceNn/MonEra-sub000/internal/jobs"
)

// ErrJobNotFound is returned by GetJob for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// Store keeps job state in a map. Every read and write copies, so stored
// jobs never alias the queue's. Data is lost on restart.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobs.SyncJob
}

func NewStore() *Store {
	return &Store{jobs: make(map[string]*jobs.SyncJob)}
}

func (s *Store) SaveJob(ctx context.Context, job *jobs.SyncJob) error {
	if job.JobID == "" {
		return errors.New("SaveJob: job ID is required")
	}
	cp := *job

	s.mu.Lock()
	s.jobs[job.JobID] = &cp
	s.mu.Unlock()
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob: %w: %s", ErrJobNotFound, jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.SyncJob, error) {
	s.mu.RLock()
	result := make([]*jobs.SyncJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.RecordID != "" && job.RecordID != filter.RecordID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		cp := *job
		result = append(result, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	offset := max(filter.Offset, 0)
	if offset >= len(result) {
		return []*jobs.SyncJob{}, nil
	}
	result = result[offset:]
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) PruneJobs(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pruned := 0
	for id, job := range s.jobs {
		if !job.Status.Terminal() || job.CompletedAt == nil || !job.CompletedAt.Before(cutoff) {
			continue
		}
		delete(s.jobs, id)
		pruned++
	}
	return pruned, nil
}

var _ jobs.JobStore = (*Store)(nil)
