package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/importer"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/migration"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// Source resolves the storage adapter a request runs against.
type Source interface {
	Active(ctx context.Context) (storage.Adapter, error)
}

// store is embedded by every handler that reads or writes records.
type store struct {
	source    Source
	publisher jobs.Publisher
	log       zerolog.Logger
}

func (s store) adapter(w http.ResponseWriter, r *http.Request) (storage.Adapter, bool) {
	a, err := s.source.Active(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to resolve storage backend")
		middleware.WriteError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return nil, false
	}
	return a, true
}

// publish queues a sync job. A failure only delays the push until the next
// full sync, so it is logged and otherwise ignored.
func (s store) publish(ctx context.Context, job *jobs.SyncJob) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.log.Warn().Err(err).
			Str("family", string(job.Family)).
			Str("record_id", job.RecordID).
			Msg("Failed to queue sync job")
	}
}

var validationErrors = []error{
	domain.ErrMissingField,
	domain.ErrInvalidAmount,
	domain.ErrInvalidType,
	domain.ErrInvalidFrequency,
	domain.ErrInvalidThreshold,
	domain.ErrInvalidDateRange,
}

// writeFailure maps err onto a status code. Unexpected errors are logged
// and reported with msg only.
func writeFailure(w http.ResponseWriter, log zerolog.Logger, msg string, err error) {
	var ve *importer.ValidationError
	var verr *migration.VerificationError
	switch {
	case errors.As(err, &ve):
		middleware.WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":    "Invalid import data",
			"problems": ve.Problems,
		})
		return
	case errors.As(err, &verr):
		log.Error().Err(err).Msg(msg)
		middleware.WriteError(w, http.StatusInternalServerError, verr.Error())
		return
	case errors.Is(err, storage.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, storage.ErrDuplicateID), errors.Is(err, domain.ErrDuplicateActiveBudget):
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, migration.ErrNoBackup):
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, migration.ErrStructuredUnavailable):
		middleware.WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			middleware.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	log.Error().Err(err).Msg(msg)
	middleware.WriteError(w, http.StatusInternalServerError, msg)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(r *http.Request, name string) (*civil.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// queryBool treats a missing parameter as false.
func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := r.PathValue("id")

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Debug().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		RecordID: query.Get("record_id"),
		Status:   jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobsList == nil {
		jobsList = []*jobs.SyncJob{}
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}
