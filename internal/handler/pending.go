package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cafe-pos/terminal/internal/pending"
)

// PendingStore defines the pending-list methods needed by pending handlers.
// Satisfied by *pending.Store; narrow interface for testability.
type PendingStore interface {
	Load(ctx context.Context) error
	Filter(f pending.Filter) []pending.Entry
	Select(ids ...int64) error
	Deselect(ids ...int64)
	Toggle(id int64) (bool, error)
	ClearSelection()
	Selection() []int64
	SelectedTotal() decimal.Decimal
}

// PendingHandler serves the pending-sales list and the selection set.
type PendingHandler struct {
	store PendingStore
}

// NewPendingHandler creates a new PendingHandler.
func NewPendingHandler(store PendingStore) *PendingHandler {
	return &PendingHandler{store: store}
}

// RegisterRoutes registers pending and selection endpoints.
func (h *PendingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/pending", h.List)
	r.Post("/pending/refresh", h.Refresh)
	r.Route("/selection", func(r chi.Router) {
		r.Get("/", h.GetSelection)
		r.Put("/", h.ReplaceSelection)
		r.Delete("/", h.ClearSelection)
		r.Post("/{id}/toggle", h.Toggle)
	})
}

// --- Request / Response types ---

type pendingListResponse struct {
	Sales []pending.Entry `json:"sales"`
	Count int             `json:"count"`
}

type selectionRequest struct {
	SaleIDs []int64 `json:"sale_ids"`
}

type selectionResponse struct {
	SaleIDs []int64         `json:"sale_ids"`
	Total   decimal.Decimal `json:"total"`
}

func (h *PendingHandler) selection() selectionResponse {
	ids := h.store.Selection()
	if ids == nil {
		ids = []int64{}
	}
	return selectionResponse{SaleIDs: ids, Total: h.store.SelectedTotal()}
}

// --- Handlers ---

// List returns pending sales, optionally filtered by exact customer id and
// by a case-insensitive room substring.
func (h *PendingHandler) List(w http.ResponseWriter, r *http.Request) {
	var f pending.Filter
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid customer_id"})
			return
		}
		f.CustomerID = &id
	}
	f.Room = r.URL.Query().Get("room")

	sales := h.store.Filter(f)
	writeJSON(w, http.StatusOK, pendingListResponse{Sales: sales, Count: len(sales)})
}

// Refresh reloads the list from the café API.
func (h *PendingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Load(r.Context()); err != nil {
		log.Printf("ERROR: refresh pending sales: %v", err)
		writeUpstreamError(w, err)
		return
	}
	sales := h.store.Filter(pending.Filter{})
	writeJSON(w, http.StatusOK, pendingListResponse{Sales: sales, Count: len(sales)})
}

// GetSelection returns the selected ids and their total.
func (h *PendingHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.selection())
}

// ReplaceSelection makes sale_ids the whole selection. Nothing changes if
// any id is not pending.
func (h *PendingHandler) ReplaceSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := h.store.Select(req.SaleIDs...); err != nil {
		if errors.Is(err, pending.ErrUnknownSale) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	keep := make(map[int64]bool, len(req.SaleIDs))
	for _, id := range req.SaleIDs {
		keep[id] = true
	}
	var drop []int64
	for _, id := range h.store.Selection() {
		if !keep[id] {
			drop = append(drop, id)
		}
	}
	h.store.Deselect(drop...)

	writeJSON(w, http.StatusOK, h.selection())
}

// ClearSelection empties the selection.
func (h *PendingHandler) ClearSelection(w http.ResponseWriter, r *http.Request) {
	h.store.ClearSelection()
	writeJSON(w, http.StatusOK, h.selection())
}

// Toggle flips one sale in or out of the selection.
func (h *PendingHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r, "id")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if _, err := h.store.Toggle(id); err != nil {
		if errors.Is(err, pending.ErrUnknownSale) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, h.selection())
}
