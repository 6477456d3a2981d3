package api

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/starford/notebridge/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errDetail struct {
	Kind    apperr.Kind `json:"kind" example:"not_found" validate:"required"`
	Message string      `json:"message" example:"get_note: note 0123 not found" validate:"required"`
}

type errResponse struct {
	Error errDetail `json:"error" validate:"required"`
}

func errorBody(kind apperr.Kind, msg string) errResponse {
	return errResponse{Error: errDetail{Kind: kind, Message: msg}}
}

// statusFor maps a failure kind to an HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.Validation:
		return http.StatusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Auth:
		// The caller is fine; our upstream credential is not.
		return http.StatusBadGateway
	case apperr.Unavailable, apperr.BreakerOpen:
		return http.StatusServiceUnavailable
	case apperr.RateExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err with the status of its kind. Internal details
// are logged, not returned.
func writeError(w http.ResponseWriter, err error) {
	f := apperr.From(err)
	status := statusFor(f.Kind)
	if f.RetryAfter > 0 {
		secs := int(math.Ceil(f.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	msg := f.Error()
	if f.Kind == apperr.Internal {
		slog.Error("request failed", slog.String("error", msg))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody(f.Kind, msg))
}
