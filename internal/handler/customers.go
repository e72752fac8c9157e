package handler

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cafe-pos/terminal/internal/catalog"
	"github.com/cafe-pos/terminal/internal/salesapi"
)

// CustomerDirectory defines the customer cache methods needed by customer
// handlers. Satisfied by *catalog.CustomerStore.
type CustomerDirectory interface {
	List() []salesapi.Customer
	Refresh(ctx context.Context) error
	Resolve(token string) catalog.Match
	RefreshedAt() time.Time
}

// CustomerHandler serves the read-only customer list and card lookup.
type CustomerHandler struct {
	directory CustomerDirectory
}

// NewCustomerHandler creates a new CustomerHandler.
func NewCustomerHandler(directory CustomerDirectory) *CustomerHandler {
	return &CustomerHandler{directory: directory}
}

// RegisterRoutes registers customer endpoints on the given Chi router.
// Expected to be mounted at /customers.
func (h *CustomerHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/refresh", h.Refresh)
	r.Get("/lookup", h.Lookup)
}

// --- Response types ---

type customerListResponse struct {
	Customers   []salesapi.Customer `json:"customers"`
	RefreshedAt *time.Time          `json:"refreshed_at"`
}

type lookupResponse struct {
	Status     string              `json:"status"`
	Field      string              `json:"field,omitempty"`
	Customer   *salesapi.Customer  `json:"customer,omitempty"`
	Candidates []salesapi.Customer `json:"candidates,omitempty"`
}

func (h *CustomerHandler) list() customerListResponse {
	resp := customerListResponse{Customers: h.directory.List()}
	if resp.Customers == nil {
		resp.Customers = []salesapi.Customer{}
	}
	if at := h.directory.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = &at
	}
	return resp
}

// --- Handlers ---

// List returns the cached customers sorted by name.
func (h *CustomerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.list())
}

// Refresh reloads customers from the café API.
func (h *CustomerHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.directory.Refresh(r.Context()); err != nil {
		log.Printf("ERROR: refresh customers: %v", err)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.list())
}

// Lookup resolves a scanned card token to a customer.
func (h *CustomerHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token is required"})
		return
	}

	m := h.directory.Resolve(token)
	resp := lookupResponse{Status: m.Status.String(), Field: m.Field, Customer: m.Customer}

	switch m.Status {
	case catalog.Matched:
		writeJSON(w, http.StatusOK, resp)
	case catalog.Ambiguous:
		resp.Candidates = m.Candidates
		writeJSON(w, http.StatusConflict, resp)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "card not recognised"})
	}
}
