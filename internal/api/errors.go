// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/broadcomms/brainstormx/internal/hub"
	"github.com/broadcomms/brainstormx/internal/log"
	"github.com/broadcomms/brainstormx/internal/workshop"
)

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes. Unknown errors
// become a 500 without leaking internals to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := log.RequestIDFromContext(r.Context())

	switch {
	case errors.Is(err, workshop.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "session or resource not found", Code: "not_found", RequestID: reqID})
	case errors.Is(err, workshop.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "forbidden", RequestID: reqID})
	case errors.Is(err, workshop.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict", RequestID: reqID})
	case errors.Is(err, hub.ErrBacklogExpired):
		// The client must refetch the snapshot before resubscribing.
		writeJSON(w, http.StatusConflict, errorBody{Error: "replay window expired, refetch the session snapshot", Code: "backlog_expired", RequestID: reqID})
	case errors.Is(err, workshop.ErrQuarantined):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "session is quarantined", Code: "quarantined", RequestID: reqID})
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal", RequestID: reqID})
	}
}

// writeBadRequest reports a client-side validation failure.
func writeBadRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		Error:     msg,
		Code:      "bad_request",
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}
