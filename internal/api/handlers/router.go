package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/importer"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
)

// Deps are the collaborators the router wires into handlers. Publisher,
// JobStore and Sync may be nil.
type Deps struct {
	Source       Source
	Publisher    jobs.Publisher
	JobStore     jobs.JobStore
	Materializer *recurring.Materializer
	Importer     *importer.Importer
	Migration    MigrationService
	Sync         SyncService
}

// NewRouter registers every API route on a fresh mux.
func NewRouter(d Deps, log zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	tx := NewTransactionsHandler(d.Source, d.Publisher, log)
	mux.HandleFunc("GET /api/transactions", tx.ListTransactions)
	mux.HandleFunc("POST /api/transactions", tx.CreateTransaction)
	mux.HandleFunc("GET /api/transactions/summary", tx.GetSummary)
	mux.HandleFunc("GET /api/transactions/{id}", tx.GetTransaction)
	mux.HandleFunc("PATCH /api/transactions/{id}", tx.UpdateTransaction)
	mux.HandleFunc("DELETE /api/transactions/{id}", tx.DeleteTransaction)

	cats := NewCategoriesHandler()
	mux.HandleFunc("GET /api/categories", cats.ListCategories)

	budgets := NewBudgetsHandler(d.Source, d.Publisher, log)
	mux.HandleFunc("GET /api/budgets", budgets.ListBudgets)
	mux.HandleFunc("POST /api/budgets", budgets.CreateBudget)
	mux.HandleFunc("GET /api/budgets/{id}", budgets.GetBudget)
	mux.HandleFunc("PATCH /api/budgets/{id}", budgets.UpdateBudget)
	mux.HandleFunc("DELETE /api/budgets/{id}", budgets.DeleteBudget)

	rec := NewRecurringHandler(d.Source, d.Materializer, log)
	mux.HandleFunc("GET /api/recurring", rec.ListRecurring)
	mux.HandleFunc("POST /api/recurring", rec.CreateRecurring)
	mux.HandleFunc("POST /api/recurring/materialize", rec.Materialize)
	mux.HandleFunc("GET /api/recurring/{id}", rec.GetRecurring)
	mux.HandleFunc("PATCH /api/recurring/{id}", rec.UpdateRecurring)
	mux.HandleFunc("DELETE /api/recurring/{id}", rec.DeleteRecurring)
	mux.HandleFunc("GET /api/recurring/{id}/transactions", rec.ListInstances)
	mux.HandleFunc("POST /api/transactions/{id}/make-recurring", rec.MakeRecurring)

	settings := NewSettingsHandler(d.Source, log)
	mux.HandleFunc("GET /api/settings", settings.GetSettings)
	mux.HandleFunc("PATCH /api/settings", settings.UpdateSettings)

	data := NewDataHandler(d.Source, d.Importer, log)
	mux.HandleFunc("GET /api/export", data.Export)
	mux.HandleFunc("POST /api/import", data.Import)
	mux.HandleFunc("GET /api/stats", data.Stats)
	mux.HandleFunc("DELETE /api/data", data.Clear)

	mig := NewMigrationHandler(d.Migration, log)
	mux.HandleFunc("GET /api/migration", mig.Status)
	mux.HandleFunc("POST /api/migration/migrate", mig.Migrate)
	mux.HandleFunc("POST /api/migration/rollback", mig.Rollback)
	mux.HandleFunc("POST /api/migration/cleanup", mig.CleanupBackup)

	sync := NewSyncHandler(d.Sync, log)
	mux.HandleFunc("GET /api/sync", sync.Status)
	mux.HandleFunc("POST /api/sync", sync.Run)
	mux.HandleFunc("POST /api/sync/dedupe", sync.Dedupe)

	if d.JobStore != nil {
		jh := NewJobsHandler(d.JobStore, log)
		mux.HandleFunc("GET /api/jobs", jh.ListJobs)
		mux.HandleFunc("GET /api/jobs/{id}", jh.GetJob)
	}

	return mux
}
