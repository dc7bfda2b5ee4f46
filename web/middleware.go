package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/lyangfan/deepmemory/core"
)

const apiKeyHeader = "X-API-Key"

// apiKeyMiddleware authenticates requests via the X-API-Key header.
// Development mode without a configured key skips the check.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthRequired() {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, core.ErrAuthMissing, "missing "+apiKeyHeader+" header")
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			writeError(w, core.ErrAuthInvalid, "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware allows the bundled web UI to call the API from another
// origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+apiKeyHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError maps a typed error onto its HTTP status and uniform body.
func writeError(w http.ResponseWriter, err error, message string) {
	status := http.StatusInternalServerError
	kind := "internal_error"

	switch {
	case errors.Is(err, core.ErrAuthMissing):
		status, kind = http.StatusUnauthorized, "auth_missing"
	case errors.Is(err, core.ErrAuthInvalid):
		status, kind = http.StatusForbidden, "auth_invalid"
	case errors.Is(err, core.ErrUnknownUser):
		status, kind = http.StatusNotFound, "unknown_user"
	case errors.Is(err, core.ErrUnknownSession):
		status, kind = http.StatusNotFound, "unknown_session"
	case errors.Is(err, core.ErrInvalidRole):
		status, kind = http.StatusBadRequest, "invalid_role"
	case errors.Is(err, core.ErrLLMTimeout), errors.Is(err, core.ErrLLMUnavailable):
		status, kind = http.StatusBadGateway, "llm_unavailable"
	case errors.Is(err, core.ErrStoreUnavailable):
		status, kind = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, core.ErrConfigInvalid):
		status, kind = http.StatusInternalServerError, "config_invalid"
	}

	if message == "" && err != nil {
		message = err.Error()
	}
	if status >= 500 {
		log.Printf("[WEB] %d %s: %v", status, kind, err)
	}
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[WEB] encode response: %v", err)
	}
}
