package api

import (
	"crypto/subtle"
	"net/http"
)

// requireAPIKey rejects requests that do not carry the shared secret in
// X-Api-Key. The compare is constant-time.
func (h *Handler) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" {
			h.log.Warn("api.auth.missing_key", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.APIKey)) != 1 {
			h.log.Warn("api.auth.invalid_key", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		next(w, r)
	}
}
