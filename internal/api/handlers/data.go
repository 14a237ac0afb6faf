package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/AriceNn/MonEra-sub000/internal/api/middleware"
	"github.com/AriceNn/MonEra-sub000/internal/domain"
	"github.com/AriceNn/MonEra-sub000/internal/importer"
)

// maxImportBytes caps the size of an uploaded import.
const maxImportBytes = 32 << 20

// SettingsHandler serves the settings singleton.
type SettingsHandler struct {
	store
}

func NewSettingsHandler(source Source, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{store{source: source, log: log}}
}

// GetSettings handles GET /api/settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	s, err := a.GetSettings(r.Context())
	if err != nil {
		writeFailure(w, h.log, "Failed to load settings", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// UpdateSettings handles PATCH /api/settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if !decode(w, r, &patch) {
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	s, err := a.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeFailure(w, h.log, "Failed to update settings", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, s)
}

// DataHandler covers whole-dataset operations: export, import, stats and
// clearing.
type DataHandler struct {
	store
	importer *importer.Importer
	now      func() time.Time
}

func NewDataHandler(source Source, im *importer.Importer, log zerolog.Logger) *DataHandler {
	return &DataHandler{
		store:    store{source: source, log: log},
		importer: im,
		now:      time.Now,
	}
}

// Export handles GET /api/export
func (h *DataHandler) Export(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	snap, err := a.ExportAll(r.Context())
	if err != nil {
		writeFailure(w, h.log, "Failed to export data", err)
		return
	}
	name := fmt.Sprintf("monera-export-%s.json", h.now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	middleware.WriteJSON(w, http.StatusOK, snap)
}

// Import handles POST /api/import. The body is a JSON snapshot, or a CSV
// transaction list when ?format=csv or the content type says so. ?mode=
// is merge (default) or replace.
func (h *DataHandler) Import(w http.ResponseWriter, r *http.Request) {
	mode, err := importer.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	var res importer.Result
	if isCSV(r) {
		txs, err := importer.ParseCSV(body)
		if err != nil {
			writeFailure(w, h.log, "Failed to parse import", err)
			return
		}
		res, err = h.importer.ImportTransactions(r.Context(), txs, mode)
		if err != nil {
			writeFailure(w, h.log, "Failed to import data", err)
			return
		}
	} else {
		snap, err := importer.ParseJSON(body)
		if err != nil {
			writeFailure(w, h.log, "Failed to parse import", err)
			return
		}
		res, err = h.importer.Import(r.Context(), snap, mode)
		if err != nil {
			writeFailure(w, h.log, "Failed to import data", err)
			return
		}
	}

	status := http.StatusOK
	if res.Skipped {
		status = http.StatusAccepted
	}
	middleware.WriteJSON(w, status, res)
}

func isCSV(r *http.Request) bool {
	if f := r.URL.Query().Get("format"); f != "" {
		return strings.EqualFold(f, "csv")
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "text/csv")
}

// Stats handles GET /api/stats
func (h *DataHandler) Stats(w http.ResponseWriter, r *http.Request) {
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	stats, err := a.GetStats(r.Context())
	if err != nil {
		writeFailure(w, h.log, "Failed to read stats", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"backend": a.Backend(),
		"stats":   stats,
	})
}

// Clear handles DELETE /api/data?confirm=true. Remote copies are left
// alone.
func (h *DataHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if !queryBool(r, "confirm") {
		middleware.WriteError(w, http.StatusBadRequest, "confirm=true is required")
		return
	}
	a, ok := h.adapter(w, r)
	if !ok {
		return
	}
	if err := a.ClearAll(r.Context()); err != nil {
		writeFailure(w, h.log, "Failed to clear data", err)
		return
	}
	h.log.Warn().Str("backend", string(a.Backend())).Msg("Cleared all local data")
	w.WriteHeader(http.StatusNoContent)
}
