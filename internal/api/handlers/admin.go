package handlers

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/cloudsync"
	"github.com/AriceNn/MonEra-sub000/internal/migration"
)

// MigrationService is the part of migration.Coordinator the API drives.
type MigrationService interface {
	Status(ctx context.Context) (migration.Status, error)
	Migrate(ctx context.Context) (migration.Result, error)
	Rollback(ctx context.Context) (migration.Result, error)
	CleanupBackup(ctx context.Context, force bool) (bool, error)
}

var _ MigrationService = (*migration.Coordinator)(nil)

// SyncService is the part of cloudsync.Engine the API drives.
type SyncService interface {
	State() cloudsync.State
	Sync(ctx context.Context) (cloudsync.Result, error)
	CleanupDuplicates(ctx context.Context) (cloudsync.DedupeResult, error)
}

var _ SyncService = (*cloudsync.Engine)(nil)

// MigrationHandler exposes the flat-to-structured migration.
type MigrationHandler struct {
	svc MigrationService
	log zerolog.Logger
}

func NewMigrationHandler(svc MigrationService, log zerolog.Logger) *MigrationHandler {
	return &MigrationHandler{svc: svc, log: log}
}

// Status handles GET /api/migration
func (h *MigrationHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeFailure(w, h.log, "Failed to read migration status", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, st)
}

// Migrate handles POST /api/migration/migrate
func (h *MigrationHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, "Migration failed")(h.svc.Migrate(r.Context()))
}

// Rollback handles POST /api/migration/rollback
func (h *MigrationHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	h.writeResult(w, "Rollback failed")(h.svc.Rollback(r.Context()))
}

func (h *MigrationHandler) writeResult(w http.ResponseWriter, msg string) func(migration.Result, error) {
	return func(res migration.Result, err error) {
		if err != nil {
			writeFailure(w, h.log, msg, err)
			return
		}
		status := http.StatusOK
		if res.Skipped {
			status = http.StatusAccepted
		}
		middleware.WriteJSON(w, status, res)
	}
}

// CleanupBackup handles POST /api/migration/cleanup. ?force=true ignores
// the retention window.
func (h *MigrationHandler) CleanupBackup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.CleanupBackup(r.Context(), queryBool(r, "force"))
	if err != nil {
		writeFailure(w, h.log, "Failed to clean up backup", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// SyncHandler exposes the cloud sync engine. A nil service means no remote
// is configured and every endpoint answers 503.
type SyncHandler struct {
	svc SyncService
	log zerolog.Logger
}

func NewSyncHandler(svc SyncService, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, log: log}
}

func (h *SyncHandler) enabled(w http.ResponseWriter) bool {
	if h.svc == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Cloud sync is not configured")
		return false
	}
	return true
}

// Status handles GET /api/sync
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	middleware.WriteJSON(w, http.StatusOK, h.svc.State())
}

// Run handles POST /api/sync
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	res, err := h.svc.Sync(r.Context())
	if err != nil {
		writeFailure(w, h.log, "Sync failed", err)
		return
	}
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusAccepted
	}
	middleware.WriteJSON(w, status, res)
}

// Dedupe handles POST /api/sync/dedupe
func (h *SyncHandler) Dedupe(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	res, err := h.svc.CleanupDuplicates(r.Context())
	if err != nil {
		writeFailure(w, h.log, "Duplicate cleanup failed", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
