package handlers

import (
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/recurring"
)

// RecurringHandler handles recurring template endpoints. Writes go through
// the materializer so the next occurrence is always derived.
type RecurringHandler struct {
	store
	materializer *recurring.Materializer
	now          func() time.Time
}

func NewRecurringHandler(source Source, m *recurring.Materializer, log zerolog.Logger) *RecurringHandler {
	return &RecurringHandler{
		store:        store{source: source, log: log},
		materializer: m,
		now:          time.Now,
	}
}

// ListRecurring handles GET /api/recurring. ?active=true limits the result
// to active templates.
func (h *RecurringHandler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	var (
		templates []domain.RecurringTemplate
		err       error
	)
	if queryBool(r, "active") {
		templates, err = a.GetActiveRecurring(r.Context())
	} else {
		templates, err = a.GetAllRecurring(r.Context())
	}
	if err != nil {
		writeFailure(w, h.log, "Failed to list recurring templates", err)
		return
	}
	if templates == nil {
		templates = []domain.RecurringTemplate{}
	}
	middleware.WriteJSON(w, http.StatusOK, templates)
}

// GetRecurring handles GET /api/recurring/{id}
func (h *RecurringHandler) GetRecurring(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	t, err := a.GetRecurring(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, h.log, "Failed to get recurring template", err)
		return
	}
	if t == nil {
		middleware.WriteError(w, http.StatusNotFound, "Recurring template not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, t)
}

// ListInstances handles GET /api/recurring/{id}/transactions
func (h *RecurringHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	txs, err := a.GetTransactionsByRecurringID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, h.log, "Failed to list generated transactions", err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	middleware.WriteJSON(w, http.StatusOK, txs)
}

// CreateRecurring handles POST /api/recurring
func (h *RecurringHandler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var t domain.RecurringTemplate
	if !decode(w, r, &t) {
		return
	}
	created, err := h.materializer.CreateTemplate(r.Context(), t)
	if err != nil {
		writeFailure(w, h.log, "Failed to create recurring template", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// UpdateRecurring handles PATCH /api/recurring/{id}
func (h *RecurringHandler) UpdateRecurring(w http.ResponseWriter, r *http.Request) {
	var patch domain.RecurringPatch
	if !decode(w, r, &patch) {
		return
	}
	updated, err := h.materializer.UpdateTemplate(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeFailure(w, h.log, "Failed to update recurring template", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// DeleteRecurring handles DELETE /api/recurring/{id}. With ?cascade=true
// the generated transactions are deleted as well.
func (h *RecurringHandler) DeleteRecurring(w http.ResponseWriter, r *http.Request) {
	removed, err := h.materializer.DeleteTemplate(r.Context(), r.PathValue("id"), queryBool(r, "cascade"))
	if err != nil {
		writeFailure(w, h.log, "Failed to delete recurring template", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"transactionsRemoved": removed})
}

// MakeRecurring handles POST /api/transactions/{id}/make-recurring
func (h *RecurringHandler) MakeRecurring(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frequency domain.Frequency `json:"frequency"`
		EndDate   *civil.Date      `json:"endDate,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	t, err := h.materializer.MakeRecurring(r.Context(), r.PathValue("id"), req.Frequency, req.EndDate)
	if err != nil {
		writeFailure(w, h.log, "Failed to make transaction recurring", err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, t)
}

// Materialize handles POST /api/recurring/materialize. ?date= overrides
// today.
func (h *RecurringHandler) Materialize(w http.ResponseWriter, r *http.Request) {
	today := recurring.Today(h.now())
	asOf, err := queryDate(r, "date")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid date format")
		return
	}
	if asOf != nil {
		today = *asOf
	}

	res, err := h.materializer.Run(r.Context(), today)
	if err != nil {
		writeFailure(w, h.log, "Failed to materialize recurring transactions", err)
		return
	}
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusAccepted
	}
	middleware.WriteJSON(w, status, res)
}
