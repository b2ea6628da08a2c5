package httpapi

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/sethdford/fleetctl/internal/apperr"
)

// writeError is the sole translator from a tagged apperr.Error to an
// HTTP status; every handler funnels failures through it instead of
// open-coding http.Error calls. An internal failure never leaks its
// cause to the client; it gets a trace id instead and the cause is
// logged here.
func (a *API) writeError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		traceID := uuid.NewString()
		a.logger.Error("internal error", "error", err, "traceId", traceID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "traceId": traceID})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperr.ValidationFailure:
		status = http.StatusBadRequest
	case apperr.NotFound:
		status = http.StatusNotFound
	case apperr.Conflict:
		status = http.StatusConflict
	case apperr.WrongState:
		status = http.StatusBadRequest
	case apperr.LimitReached:
		status = http.StatusBadRequest
	case apperr.DependencyMissing:
		status = http.StatusServiceUnavailable
	case apperr.InternalFailure:
		traceID := uuid.NewString()
		a.logger.Error("internal error", "error", err, "traceId", traceID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error", "traceId": traceID})
		return
	}
	writeJSON(w, status, map[string]string{"error": appErr.Message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}
