package api

import (
	"errors"
	"net/http"

	"affilink/internal/httpx"
)

// decode reads the request body into dst and writes the 4xx itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, dst)
	switch {
	case err == nil:
		return true
	case httpx.IsTooLarge(err):
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	case errors.Is(err, httpx.ErrEmptyBody):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "request body required")
	default:
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "malformed JSON body")
	}
	return false
}
