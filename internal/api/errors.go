package api

import (
	"encoding/json"
	"net/http"
)

// Error codes carried in every non-2xx body.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
	ErrCodeUpstream    = "upstream_unavailable"
)

// errorResponse is the body of every error reply. RequestID matches the
// X-Request-ID header so operators can find the log line.
type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   message,
		RequestID: requestIDFrom(r.Context()),
	})
}

// statusForCode maps the short helpers below onto HTTP statuses.
var statusForCode = map[string]int{
	ErrCodeBadRequest: http.StatusBadRequest,
	ErrCodeNotFound:   http.StatusNotFound,
	ErrCodeInternal:   http.StatusInternalServerError,
}

func fail(w http.ResponseWriter, r *http.Request, code, message string) {
	writeError(w, r, statusForCode[code], code, message)
}
