package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// BudgetsHandler handles budget endpoints.
type BudgetsHandler struct {
	store
}

func NewBudgetsHandler(source Source, publisher jobs.Publisher, log zerolog.Logger) *BudgetsHandler {
	return &BudgetsHandler{store{source: source, publisher: publisher, log: log}}
}

// ListBudgets handles GET /api/budgets. ?active=true limits the result to
// active budgets, ?category= to one category.
func (h *BudgetsHandler) ListBudgets(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	category := r.URL.Query().Get("category")

	var (
		budgets []domain.Budget
		err     error
	)
	switch {
	case category != "":
		budgets, err = a.GetBudgetsByCategory(ctx, category)
	case queryBool(r, "active"):
		budgets, err = a.GetActiveBudgets(ctx)
	default:
		budgets, err = a.GetAllBudgets(ctx)
	}
	if err != nil {
		writeFailure(w, h.log, "Failed to list budgets", err)
		return
	}
	if category != "" && queryBool(r, "active") {
		budgets = storage.Filter(budgets, func(b domain.Budget) bool { return b.IsActive })
	}
	if budgets == nil {
		budgets = []domain.Budget{}
	}
	middleware.WriteJSON(w, http.StatusOK, budgets)
}

// GetBudget handles GET /api/budgets/{id}
func (h *BudgetsHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	b, err := a.GetBudget(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, h.log, "Failed to get budget", err)
		return
	}
	if b == nil {
		middleware.WriteError(w, http.StatusNotFound, "Budget not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, b)
}

// CreateBudget handles POST /api/budgets
func (h *BudgetsHandler) CreateBudget(w http.ResponseWriter, r *http.Request) {
	var b domain.Budget
	if !decode(w, r, &b) {
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	created, err := a.AddBudget(r.Context(), b)
	if err != nil {
		writeFailure(w, h.log, "Failed to create budget", err)
		return
	}
	h.publish(r.Context(), jobs.NewPush(jobs.FamilyBudgets, created.ID))
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// UpdateBudget handles PATCH /api/budgets/{id}
func (h *BudgetsHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var patch domain.BudgetPatch
	if !decode(w, r, &patch) {
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	updated, err := a.UpdateBudget(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeFailure(w, h.log, "Failed to update budget", err)
		return
	}
	h.publish(r.Context(), jobs.NewPush(jobs.FamilyBudgets, updated.ID))
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// DeleteBudget handles DELETE /api/budgets/{id}
func (h *BudgetsHandler) DeleteBudget(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := a.DeleteBudget(r.Context(), id); err != nil {
		writeFailure(w, h.log, "Failed to delete budget", err)
		return
	}
	h.publish(r.Context(), jobs.NewDelete(jobs.FamilyBudgets, id))
	w.WriteHeader(http.StatusNoContent)
}
