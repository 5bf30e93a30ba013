/*
handlers.go - HTTP API handlers for the perishable-stock ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine and the store.

ENDPOINTS:
  Movements:
    POST   /api/inventories/bulk?mode=      Upsert one store's day (201)
    POST   /api/inventories/recompute       Forward recompute of one item

  Reporting:
    GET    /api/stores/{storeID}/inventories?date=                 Rows on a date
    GET    /api/stores/{storeID}/items/{itemID}/inventories?from=&to= Rows in range
    GET    /api/stores/{storeID}/items/{itemID}/summary?from=&to=     Range totals

  Operations:
    GET    /healthz
    GET    /metrics

MODE:
  The ?mode= query parameter overrides the body's mode. Both default to propagate.

ERROR HANDLING:
  Errors are returned as JSON {error, code, details}:
  - 400: invalid_movement, no_effective_change, malformed body or query
  - 500: inconsistent_carryover (stored state is corrupt)
  - 503: persistence_failure (retry later)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/freshstock/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the handlers read from besides the engine.
type Store interface {
	ledger.Store
	ledger.Reader
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Store  Store
	Log    zerolog.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *ledger.Engine, store Store, log zerolog.Logger) *Handler {
	return &Handler{Engine: engine, Store: store, Log: log}
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// BulkUpsert applies one store's movements for one date.
func (h *Handler) BulkUpsert(w http.ResponseWriter, r *http.Request) {
	var req BulkUpsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "Invalid request body", err)
		return
	}

	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "items list cannot be empty", nil)
		return
	}

	rawMode := req.Mode
	if q := r.URL.Query().Get("mode"); q != "" {
		rawMode = q
	}
	mode, err := ledger.ParseMode(rawMode)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	rows, err := h.Engine.Upsert(r.Context(), req.toBatch(mode))
	if err != nil {
		if ledger.IsNoEffectiveChange(err) {
			writeError(w, http.StatusBadRequest, ledger.CodeNoEffectiveChange, "all rows were zero", nil)
			return
		}
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, BulkUpsertResponse{
		StoreID: req.StoreID,
		Date:    req.Date,
		Mode:    string(mode),
		Count:   len(rows),
		Rows:    toRowDTOs(rows),
	})
}

// Recompute rederives one item's stored rows from a date onwards.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	var req RecomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "Invalid request body", err)
		return
	}

	res, err := h.Engine.RecomputeFrom(r.Context(),
		ledger.StoreID(req.StoreID), ledger.ItemID(req.ItemID), req.StartDate, req.EndDate)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRecomputeDTO(res))
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// ListRowsOnDate returns every row of a store on one date.
func (h *Handler) ListRowsOnDate(w http.ResponseWriter, r *http.Request) {
	storeID := ledger.StoreID(chi.URLParam(r, "storeID"))

	date, err := dateParam(r, "date", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "Invalid date", err)
		return
	}

	rows, err := h.Store.RowsOnDate(r.Context(), storeID, date)
	if err != nil {
		writeLedgerError(w, ledger.Persistence("list rows on date", err))
		return
	}

	writeJSON(w, http.StatusOK, toRowDTOs(rows))
}

// ListItemRows returns one item's rows from `from` (required) to `to` (optional).
func (h *Handler) ListItemRows(w http.ResponseWriter, r *http.Request) {
	storeID, itemID, from, to, ok := rangeParams(w, r)
	if !ok {
		return
	}

	rows, err := h.Store.FetchRowsFrom(r.Context(), storeID, itemID, from, to)
	if err != nil {
		writeLedgerError(w, ledger.Persistence("list item rows", err))
		return
	}

	writeJSON(w, http.StatusOK, toRowDTOs(rows))
}

// GetSummary totals one item's rows over a date range.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	storeID, itemID, from, to, ok := rangeParams(w, r)
	if !ok {
		return
	}

	rows, err := h.Store.FetchRowsFrom(r.Context(), storeID, itemID, from, to)
	if err != nil {
		writeLedgerError(w, ledger.Persistence("summarize item", err))
		return
	}

	s := ledger.Summarize(rows)
	dto := SummaryDTO{
		StoreID:     string(storeID),
		ItemID:      string(itemID),
		From:        from,
		To:          s.To,
		Days:        s.Days,
		Received:    s.Received,
		Sold:        s.Sold,
		Waste:       s.Waste,
		Closing:     s.Closing,
		WasteRate:   s.WasteRate.StringFixed(4),
		SellThrough: s.SellThrough.StringFixed(4),
	}
	if to != nil {
		dto.To = *to
	}

	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Health reports liveness and, when the store supports it, database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	p, ok := h.Store.(Pinger)
	if !ok {
		writeJSON(w, http.StatusOK, HealthDTO{Status: "ok"})
		return
	}
	if err := p.Ping(r.Context()); err != nil {
		h.Log.Warn().Err(err).Msg("health check: database unreachable")
		writeJSON(w, http.StatusServiceUnavailable, HealthDTO{Status: "degraded", Database: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Database: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func rangeParams(w http.ResponseWriter, r *http.Request) (ledger.StoreID, ledger.ItemID, ledger.Date, *ledger.Date, bool) {
	storeID := ledger.StoreID(chi.URLParam(r, "storeID"))
	itemID := ledger.ItemID(chi.URLParam(r, "itemID"))

	from, err := dateParam(r, "from", true)
	if err != nil {
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "Invalid from date", err)
		return "", "", ledger.Date{}, nil, false
	}
	toDate, err := dateParam(r, "to", false)
	if err != nil {
		writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "Invalid to date", err)
		return "", "", ledger.Date{}, nil, false
	}

	var to *ledger.Date
	if !toDate.IsZero() {
		if toDate.Before(from) {
			writeError(w, http.StatusBadRequest, ledger.CodeInvalidMovement, "to is before from", nil)
			return "", "", ledger.Date{}, nil, false
		}
		to = &toDate
	}
	return storeID, itemID, from, to, true
}

var errMissingParam = errors.New("missing query parameter")

func dateParam(r *http.Request, name string, required bool) (ledger.Date, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		if required {
			return ledger.Date{}, errMissingParam
		}
		return ledger.Date{}, nil
	}
	return ledger.ParseDate(raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeLedgerError maps the ledger error taxonomy onto HTTP status codes.
func writeLedgerError(w http.ResponseWriter, err error) {
	code := ledger.ErrorCode(err)
	switch code {
	case ledger.CodeInvalidMovement:
		writeError(w, http.StatusBadRequest, code, "Invalid movement", err)
	case ledger.CodeNoEffectiveChange:
		writeError(w, http.StatusBadRequest, code, "No effective change", err)
	case ledger.CodeInconsistentCarryover:
		writeError(w, http.StatusInternalServerError, code, "Inconsistent stored state", err)
	default:
		writeError(w, http.StatusServiceUnavailable, code, "Storage unavailable", err)
	}
}
