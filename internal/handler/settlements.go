package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cafe-pos/terminal/internal/pending"
	"github.com/cafe-pos/terminal/internal/service"
)

// SettlementService defines the dispatcher methods needed by settlement
// handlers. Satisfied by *service.Dispatcher.
type SettlementService interface {
	Begin(saleIDs []int64, batch bool) (service.Attempt, error)
	Get(id uuid.UUID) (service.Attempt, error)
	SelectMethod(id uuid.UUID, method string) (service.Attempt, error)
	ScanCard(id uuid.UUID, token string) (service.Attempt, error)
	SelectCustomer(id uuid.UUID, customerID int64) (service.Attempt, error)
	Cancel(id uuid.UUID) error
	Submit(ctx context.Context, id uuid.UUID) (service.Outcome, error)
}

// SettlementHandler drives settlement attempts.
type SettlementHandler struct {
	dispatcher SettlementService
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(dispatcher SettlementService) *SettlementHandler {
	return &SettlementHandler{dispatcher: dispatcher}
}

// RegisterRoutes registers settlement endpoints on the given Chi router.
// Expected to be mounted at /settlements.
func (h *SettlementHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.Begin)
	r.Route("/{aid}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Cancel)
		r.Put("/method", h.SelectMethod)
		r.Post("/scan", h.ScanCard)
		r.Put("/customer", h.SelectCustomer)
		r.Post("/submit", h.Submit)
	})
}

// --- Request types ---

type beginRequest struct {
	SaleIDs []int64 `json:"sale_ids"`
	Batch   bool    `json:"batch"`
}

type methodRequest struct {
	PaymentMethod string `json:"payment_method"`
}

type scanRequest struct {
	Token string `json:"token"`
}

type customerRequest struct {
	CustomerID int64 `json:"customer_id"`
}

type failedSubmitResponse struct {
	Error   string          `json:"error"`
	Attempt service.Attempt `json:"attempt"`
}

// writeSettlementError maps dispatcher errors to HTTP statuses.
func writeSettlementError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, service.ErrAttemptNotFound), errors.Is(err, pending.ErrUnknownSale):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrEmptySelection),
		errors.Is(err, service.ErrSingleSaleRequired),
		errors.Is(err, service.ErrInvalidMethod):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrSettlementInFlight), errors.Is(err, service.ErrAttemptBusy):
		status = http.StatusConflict
	case errors.Is(err, service.ErrMethodRequired),
		errors.Is(err, service.ErrCustomerRequired),
		errors.Is(err, service.ErrInsufficientBalance),
		errors.Is(err, service.ErrCardNotFound),
		errors.Is(err, service.ErrNotAwaitingCard),
		errors.Is(err, service.ErrInvalidTransition):
		status = http.StatusUnprocessableEntity
	default:
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseAttemptID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "aid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid attempt id"})
		return uuid.Nil, false
	}
	return id, true
}

// --- Handlers ---

// Begin opens an attempt for one sale or a batch.
func (h *SettlementHandler) Begin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	a, err := h.dispatcher.Begin(req.SaleIDs, req.Batch)
	if err != nil {
		writeSettlementError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// Get returns an attempt.
func (h *SettlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttemptID(w, r)
	if !ok {
		return
	}
	a, err := h.dispatcher.Get(id)
	if err != nil {
		writeSettlementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Cancel abandons an attempt that has not been submitted.
func (h *SettlementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttemptID(w, r)
	if !ok {
		return
	}
	if err := h.dispatcher.Cancel(id); err != nil {
		writeSettlementError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SelectMethod sets the payment method.
func (h *SettlementHandler) SelectMethod(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttemptID(w, r)
	if !ok {
		return
	}

	var req methodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	a, err := h.dispatcher.SelectMethod(id, req.PaymentMethod)
	if err != nil {
		writeSettlementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ScanCard feeds a scanned card token to an attempt awaiting a card.
func (h *SettlementHandler) ScanCard(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttemptID(w, r)
	if !ok {
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	a, err := h.dispatcher.ScanCard(id, req.Token)
	if err != nil {
		writeSettlementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SelectCustomer picks the card customer by hand.
func (h *SettlementHandler) SelectCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttemptID(w, r)
	if !ok {
		return
	}

	var req customerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CustomerID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "customer_id is required"})
		return
	}

	a, err := h.dispatcher.SelectCustomer(id, req.CustomerID)
	if err != nil {
		writeSettlementError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Submit settles the attempt. A batch with some failures is still a 200;
// the failures are listed in the outcome.
func (h *SettlementHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttemptID(w, r)
	if !ok {
		return
	}

	out, err := h.dispatcher.Submit(r.Context(), id)
	if err != nil {
		if out.Attempt.ID == uuid.Nil {
			writeSettlementError(w, err)
			return
		}
		// The remote call was made and failed; the attempt is closed.
		log.Printf("ERROR: submit attempt %s: %v", id, err)
		status, msg := upstreamStatus(err)
		writeJSON(w, status, failedSubmitResponse{Error: msg, Attempt: out.Attempt})
		return
	}
	writeJSON(w, http.StatusOK, out)
}
