// Package httpapi exposes the learning engine's debug/ops HTTP surface:
// trajectory ingestion, training trigger status, pattern CRUD, and routing.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
)

// writeJSON marshals v as the response body with the given status code,
// logging (but not failing the request further) on encode error.
func writeJSON(w http.ResponseWriter, logger *log.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("httpapi: failed to encode response", "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, logger *log.Logger, status int, err error) {
	writeJSON(w, logger, status, errorResponse{Error: err.Error()})
}
