// Package respond writes JSON bodies and maps domain errors to HTTP statuses.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chatauth/internal/domain"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// ErrorEnvelope is the body of every failed request.
type ErrorEnvelope struct {
	Error             string            `json:"error"`
	Code              string            `json:"code"`
	WaitMinutes       int               `json:"waitMinutes,omitempty"`
	RemainingAttempts int               `json:"remainingAttempts,omitempty"`
	Fields            map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrIncorrectCode):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrSessionExpired),
		errors.Is(err, domain.ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrAlreadyVerified):
		return http.StatusConflict
	case errors.Is(err, domain.ErrDelivery):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as an ErrorEnvelope. Internal and unknown errors are
// logged and reported with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := Status(err)
	de, ok := domain.AsError(err)
	if status == http.StatusInternalServerError || !ok {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", chimiddleware.GetReqID(r.Context()),
			"err", err,
		)
		JSON(w, http.StatusInternalServerError, ErrorEnvelope{Error: "internal server error", Code: "internal"})
		return
	}
	if status == http.StatusBadGateway {
		slog.Warn("upstream delivery failed", "path", r.URL.Path, "err", err)
	}
	JSON(w, status, ErrorEnvelope{
		Error:             de.Message,
		Code:              de.Code(),
		WaitMinutes:       de.WaitMinutes,
		RemainingAttempts: de.RemainingAttempts,
		Fields:            de.Fields,
	})
}

// Unauthorized reports whether err ends the session, so the caller must clear cookies.
func Unauthorized(err error) bool {
	return Status(err) == http.StatusUnauthorized
}
