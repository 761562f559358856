package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/user/chatrelay/internal/gateway"
	"github.com/user/chatrelay/internal/types"
)

// Error codes carried in the failure envelope.
const (
	CodeBadRequest          = "bad_request"
	CodeRateLimited         = "rate_limited"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInternal            = "internal"
	CodeNotFound            = "not_found"
)

type envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{OK: true, Data: data})
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &errorBody{Code: code, Message: message}})
}

// writeError maps err onto a status and code. Internal failures get a
// generic message; the full error is logged by the caller.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, types.ErrValidation):
		writeFailure(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	case errors.Is(err, types.ErrRateLimited):
		var rlErr *gateway.RateLimitError
		if errors.As(err, &rlErr) {
			secs := int((rlErr.RetryAfter.Milliseconds() + 999) / 1000)
			if secs > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(secs))
			}
		}
		writeFailure(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later")
	case errors.Is(err, types.ErrModelUnavailable):
		writeFailure(w, http.StatusBadGateway, CodeUpstreamUnavailable, "the model is unavailable, try again")
	case errors.Is(err, types.ErrNotFound):
		writeFailure(w, http.StatusNotFound, CodeNotFound, "not found")
	default:
		writeFailure(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}
