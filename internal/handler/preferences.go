package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/prefs"
)

// PreferenceHandler serves UI conveniences kept on the terminal.
type PreferenceHandler struct {
	store prefs.Store
}

// NewPreferenceHandler creates a new PreferenceHandler.
func NewPreferenceHandler(store prefs.Store) *PreferenceHandler {
	return &PreferenceHandler{store: store}
}

// RegisterRoutes registers preference endpoints on the given Chi router.
func (h *PreferenceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/preferences", h.Get)
	r.Put("/preferences", h.Update)
}

type preferencesResponse struct {
	LastView         string `json:"lastView"`
	SidebarCollapsed bool   `json:"sidebarCollapsed"`
}

// Fields are optional; only those present are written.
type updatePreferencesRequest struct {
	LastView         *string `json:"lastView"`
	SidebarCollapsed *bool   `json:"sidebarCollapsed"`
}

func (h *PreferenceHandler) read(r *http.Request) (preferencesResponse, error) {
	var resp preferencesResponse

	view, err := h.store.Get(r.Context(), enum.PrefLastView)
	if err != nil && !errors.Is(err, prefs.ErrNotFound) {
		return resp, err
	}
	resp.LastView = view

	collapsed, err := h.store.Get(r.Context(), enum.PrefSidebarCollapsed)
	if err != nil && !errors.Is(err, prefs.ErrNotFound) {
		return resp, err
	}
	// A malformed stored flag reads as expanded.
	resp.SidebarCollapsed, _ = strconv.ParseBool(collapsed)
	return resp, nil
}

// Get returns the stored preferences with defaults for unset keys.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp, err := h.read(r)
	if err != nil {
		log.Printf("ERROR: read preferences: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update writes the given preferences and returns the full set.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updatePreferencesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.LastView != nil {
		if err := h.store.Set(r.Context(), enum.PrefLastView, *req.LastView); err != nil {
			log.Printf("ERROR: save lastView: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
	}
	if req.SidebarCollapsed != nil {
		if err := h.store.Set(r.Context(), enum.PrefSidebarCollapsed, strconv.FormatBool(*req.SidebarCollapsed)); err != nil {
			log.Printf("ERROR: save sidebarCollapsed: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
	}

	h.Get(w, r)
}
