package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/jobs"
	"github.com/AriceNn/MonEra-sub000/internal/storage"
)

// TransactionsHandler handles transaction-related endpoints.
type TransactionsHandler struct {
	store
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(source Source, publisher jobs.Publisher, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{store{source: source, publisher: publisher, log: log}}
}

// transactionQuery is the parsed filter set of a list request. Every set
// field must match.
type transactionQuery struct {
	from, to    *civil.Date
	month, year int
	category    string
	typ         domain.TransactionType
	recurringID string
}

func parseTransactionQuery(r *http.Request) (transactionQuery, error) {
	var q transactionQuery
	var err error
	if q.from, err = queryDate(r, "start_date"); err != nil {
		return q, errors.New("Invalid start_date format")
	}
	if q.to, err = queryDate(r, "end_date"); err != nil {
		return q, errors.New("Invalid end_date format")
	}

	query := r.URL.Query()
	monthStr, yearStr := query.Get("month"), query.Get("year")
	if (monthStr == "") != (yearStr == "") {
		return q, errors.New("month and year must be given together")
	}
	if monthStr != "" {
		if q.month, err = strconv.Atoi(monthStr); err != nil || q.month < 1 || q.month > 12 {
			return q, errors.New("Invalid month")
		}
		if q.year, err = strconv.Atoi(yearStr); err != nil {
			return q, errors.New("Invalid year")
		}
	}

	q.category = query.Get("category")
	q.typ = domain.TransactionType(query.Get("type"))
	if q.typ != "" && !q.typ.Valid() {
		return q, fmt.Errorf("Invalid type %q", q.typ)
	}
	q.recurringID = query.Get("recurring_id")
	return q, nil
}

func (q transactionQuery) keep(t domain.Transaction) bool {
	if q.from != nil && t.Date.Before(*q.from) {
		return false
	}
	if q.to != nil && t.Date.After(*q.to) {
		return false
	}
	if q.month != 0 && (int(t.Date.Month) != q.month || t.Date.Year != q.year) {
		return false
	}
	if q.category != "" && t.Category != q.category {
		return false
	}
	if q.typ != "" && t.Type != q.typ {
		return false
	}
	if q.recurringID != "" && t.RecurringID != q.recurringID {
		return false
	}
	return true
}

// fetch runs the most selective store query for q; keep narrows the rest.
func (q transactionQuery) fetch(r *http.Request, a storage.Adapter) ([]domain.Transaction, error) {
	ctx := r.Context()
	switch {
	case q.month != 0:
		return a.GetTransactionsByMonth(ctx, q.month, q.year)
	case q.from != nil && q.to != nil:
		return a.GetTransactionsByDateRange(ctx, *q.from, *q.to)
	case q.recurringID != "":
		return a.GetTransactionsByRecurringID(ctx, q.recurringID)
	case q.category != "" && q.typ != "":
		return a.GetTransactionsByCategoryAndType(ctx, q.category, q.typ)
	case q.category != "":
		return a.GetTransactionsByCategory(ctx, q.category)
	case q.typ != "":
		return a.GetTransactionsByType(ctx, q.typ)
	}
	return a.GetAllTransactions(ctx)
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q, err := parseTransactionQuery(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}

	transactions, err := q.fetch(r, a)
	if err != nil {
		writeFailure(w, h.log, "Failed to query transactions", err)
		return
	}

	// Return array directly for frontend compatibility
	middleware.WriteJSON(w, http.StatusOK, storage.Filter(transactions, q.keep))
}

// GetTransaction handles GET /api/transactions/{id}
func (h *TransactionsHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	tx, err := a.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, h.log, "Failed to get transaction", err)
		return
	}
	if tx == nil {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tx)
}

// CreateTransaction handles POST /api/transactions
func (h *TransactionsHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var tx domain.Transaction
	if !decode(w, r, &tx) {
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}

	created, err := a.AddTransaction(r.Context(), tx)
	if err != nil {
		writeFailure(w, h.log, "Failed to create transaction", err)
		return
	}
	h.publish(r.Context(), jobs.NewPush(jobs.FamilyTransactions, created.ID))
	middleware.WriteJSON(w, http.StatusCreated, created)
}

// UpdateTransaction handles PATCH /api/transactions/{id}
func (h *TransactionsHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var patch domain.TransactionPatch
	if !decode(w, r, &patch) {
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}

	updated, err := a.UpdateTransaction(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeFailure(w, h.log, "Failed to update transaction", err)
		return
	}
	h.publish(r.Context(), jobs.NewPush(jobs.FamilyTransactions, updated.ID))
	middleware.WriteJSON(w, http.StatusOK, updated)
}

// DeleteTransaction handles DELETE /api/transactions/{id}
func (h *TransactionsHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := a.DeleteTransaction(r.Context(), id); err != nil {
		writeFailure(w, h.log, "Failed to delete transaction", err)
		return
	}
	h.publish(r.Context(), jobs.NewDelete(jobs.FamilyTransactions, id))
	w.WriteHeader(http.StatusNoContent)
}

// Summary totals one set of transactions by type.
type Summary struct {
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`
	Savings     decimal.Decimal `json:"savings"`
	Withdrawals decimal.Decimal `json:"withdrawals"`
	Balance     decimal.Decimal `json:"balance"`
	Count       int             `json:"count"`
}

// Summarize adds up txs. Balance is the sum of each record's signed effect.
func Summarize(txs []domain.Transaction) Summary {
	var s Summary
	for _, t := range txs {
		switch t.Type {
		case domain.TypeIncome:
			s.Income = s.Income.Add(t.Amount)
		case domain.TypeExpense:
			s.Expense = s.Expense.Add(t.Amount)
		case domain.TypeSavings:
			s.Savings = s.Savings.Add(t.Amount)
		case domain.TypeWithdrawal:
			s.Withdrawals = s.Withdrawals.Add(t.Amount)
		}
		s.Balance = s.Balance.Add(t.BalanceDelta())
	}
	s.Count = len(txs)
	return s
}

// GetSummary handles GET /api/transactions/summary and accepts the list
// filters.
func (h *TransactionsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	q, err := parseTransactionQuery(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	transactions, err := q.fetch(r, a)
	if err != nil {
		writeFailure(w, h.log, "Failed to query transactions", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, Summarize(storage.Filter(transactions, q.keep)))
}

// CategoriesHandler handles category-related endpoints.
type CategoriesHandler struct{}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler() *CategoriesHandler {
	return &CategoriesHandler{}
}

// ListCategories handles GET /api/categories and returns the built-in
// categories per transaction type.
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": domain.KnownCategories,
		"count":      len(domain.KnownCategories),
	})
}
