package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"waitlist/pkg/types"
)

// HTTPError allows backends to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusOf returns the status carried by err, or fallback.
func statusOf(err error, fallback int) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	return fallback
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON enforces the content type and body limit, then decodes into v.
// It writes the error response itself and reports whether decoding worked.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
