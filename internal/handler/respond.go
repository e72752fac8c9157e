package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cafe-pos/terminal/internal/salesapi"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// upstreamStatus maps a failed café API call to a status and message.
// Messages from the API pass through unchanged so the operator sees what the
// backend said.
func upstreamStatus(err error) (int, string) {
	var apiErr *salesapi.APIError
	switch {
	case errors.Is(err, salesapi.ErrUnauthorized), errors.Is(err, salesapi.ErrNoSession):
		return http.StatusUnauthorized, err.Error()
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, apiErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "café API did not respond in time"
	default:
		return http.StatusBadGateway, err.Error()
	}
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	status, msg := upstreamStatus(err)
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseIDParam reads a positive integer URL parameter.
func parseIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}
