// Package httpapi exposes the HTTP surface of spec §6.1: the agent chat
// endpoints, the search endpoints over C6, document/session lookups, and the
// health/metrics endpoints, wired over the standard library's net/http the
// way the teacher's internal/httpapi package does.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"sinew/internal/sinewerr"
)

// errorResponse is the shared error body shape (spec §6.1, §7).
type errorResponse struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
	RequestID string `json:"request_id"`
}

// statusFromError maps a classified error to an HTTP status code (spec §7
// propagation policy), grounded on the teacher's httpapi statusFromError
// shape.
func statusFromError(err error) int {
	kind, ok := sinewerr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case sinewerr.KindInvalidTenant, sinewerr.KindTenantRequired, sinewerr.KindInvalidArgument:
		return http.StatusUnprocessableEntity
	case sinewerr.KindNotFound:
		return http.StatusNotFound
	case sinewerr.KindSessionBusy, sinewerr.KindConflict:
		return http.StatusConflict
	case sinewerr.KindResourceExhausted:
		return http.StatusTooManyRequests
	case sinewerr.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case sinewerr.KindEmbeddingError, sinewerr.KindLLMError, sinewerr.KindAborted, sinewerr.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError renders the classified-error body (spec §7 "All other
// exceptions ... mapped to 500 with {error, error_type, request_id}").
func respondError(w http.ResponseWriter, err error) {
	kind, _ := sinewerr.KindOf(err)
	respondJSON(w, statusFromError(err), errorResponse{
		Error:     err.Error(),
		ErrorType: string(kind),
		RequestID: uuid.NewString(),
	})
}
