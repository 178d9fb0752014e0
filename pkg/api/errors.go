package api

import (
	"encoding/json"
	"net/http"

	"github.com/lsclear/sandbox/pkg/errdefs"
	"github.com/lsclear/sandbox/pkg/log"
)

// writeJSON renders v as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("api").Warn().Err(err).Msg("failed to write response")
	}
}

// writeError maps the error taxonomy onto status codes and renders the
// {detail} envelope every error response uses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errdefs.IsInvalidParameter(err):
		status = http.StatusBadRequest
	case errdefs.IsNotFound(err):
		status = http.StatusNotFound
	case errdefs.IsConflict(err):
		status = http.StatusConflict
	case errdefs.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	case errdefs.IsTransport(err):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
