package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cafe-pos/terminal/internal/auth"
	"github.com/cafe-pos/terminal/internal/salesapi"
)

// AuthService exchanges operator credentials for a session.
// Satisfied by *salesapi.Client.
type AuthService interface {
	Login(ctx context.Context, username, password string) error
}

// SessionState is the part of the terminal session auth handlers need.
// Satisfied by *session.Session.
type SessionState interface {
	Token() string
	Username() string
	Clear(ctx context.Context)
}

// AuthHandler handles login and logout of the terminal operator.
type AuthHandler struct {
	api     AuthService
	session SessionState
	onLogin func()
}

// NewAuthHandler creates a new AuthHandler. onLogin runs after a successful
// login, typically to reload pending sales and catalogs; it may be nil.
func NewAuthHandler(api AuthService, session SessionState, onLogin func()) *AuthHandler {
	return &AuthHandler{api: api, session: session, onLogin: onLogin}
}

// RegisterPublicRoutes registers endpoints reachable without a session.
func (h *AuthHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// RegisterRoutes registers endpoints that need a session.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/me", h.Me)
}

// --- Request / Response types ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string     `json:"token,omitempty"`
	Username  string     `json:"username"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *AuthHandler) currentSession(withToken bool) sessionResponse {
	token := h.session.Token()
	resp := sessionResponse{Username: h.session.Username()}
	if withToken {
		resp.Token = token
	}
	if exp, ok := auth.TokenExpiry(token); ok {
		resp.ExpiresAt = &exp
	}
	return resp
}

// --- Handlers ---

// Login authenticates against the café API and stores the session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "username and password are required"})
		return
	}

	if err := h.api.Login(r.Context(), req.Username, req.Password); err != nil {
		var apiErr *salesapi.APIError
		if errors.As(err, &apiErr) && apiErr.Status < 500 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": apiErr.Message})
			return
		}
		log.Printf("ERROR: login %s: %v", req.Username, err)
		writeUpstreamError(w, err)
		return
	}

	if h.onLogin != nil {
		h.onLogin()
	}
	writeJSON(w, http.StatusOK, h.currentSession(true))
}

// Logout drops the session on this terminal.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Clear(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Me describes the active session without echoing the token.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.currentSession(false))
}
