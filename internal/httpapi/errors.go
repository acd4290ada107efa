package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/and161185/backoffice/internal/errs"
	"go.uber.org/zap"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a service error to status, stable code and client message.
// Only validation errors echo their text; it names fields, never values.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, "Validation", err.Error()
	case errors.Is(err, errs.ErrInvalidCredentials):
		return http.StatusUnauthorized, "InvalidCredentials", "invalid credentials"
	case errors.Is(err, errs.ErrMissingToken):
		return http.StatusUnauthorized, "MissingToken", "missing token"
	case errors.Is(err, errs.ErrInvalidToken):
		return http.StatusUnauthorized, "InvalidToken", "invalid token"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "Forbidden", "forbidden"
	case errors.Is(err, errs.ErrDuplicateAccount):
		return http.StatusBadRequest, "DuplicateAccount", "account already exists"
	case errors.Is(err, errs.ErrInvalidOrExpiredToken):
		return http.StatusBadRequest, "InvalidOrExpiredToken", "invalid or expired reset token"
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, "RateLimited", "too many attempts, try later"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "NotFound", "not found"
	case errors.Is(err, errs.ErrMailUnavailable):
		return http.StatusInternalServerError, "MailUnavailable", "could not send email"
	case errors.Is(err, errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "StoreUnavailable", "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "Internal", "internal"
	}
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	_, code, _ := classify(err)
	return code
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("route", routePattern(r)),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}
