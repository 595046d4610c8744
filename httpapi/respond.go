package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	goSession "github.com/MrEthical07/goSession"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

// statusFor maps engine errors to a status and a client-safe message.
// Unknown errors map to 500 and must be logged by the caller.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, goSession.ErrInvalidInput),
		errors.Is(err, goSession.ErrPasswordPolicy):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, goSession.ErrEmailVerificationInvalid):
		return http.StatusBadRequest, goSession.ErrEmailVerificationInvalid.Error()
	case errors.Is(err, goSession.ErrInvalidCredentials):
		return http.StatusUnauthorized, goSession.ErrInvalidCredentials.Error()
	case errors.Is(err, goSession.ErrTokenInvalid),
		errors.Is(err, goSession.ErrRefreshRevoked):
		return http.StatusUnauthorized, "invalid or expired refresh token"
	case errors.Is(err, goSession.ErrUserNotFound):
		return http.StatusNotFound, goSession.ErrUserNotFound.Error()
	case errors.Is(err, goSession.ErrConflict):
		return http.StatusConflict, goSession.ErrConflict.Error()
	case errors.Is(err, goSession.ErrEmailAlreadyVerified):
		return http.StatusConflict, goSession.ErrEmailAlreadyVerified.Error()
	case errors.Is(err, goSession.ErrLoginRateLimited):
		return http.StatusTooManyRequests, "too many login attempts"
	case errors.Is(err, goSession.ErrEmailVerificationRateLimited):
		return http.StatusTooManyRequests, "too many verification emails requested"
	case errors.Is(err, goSession.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, "verification email could not be queued"
	case errors.Is(err, goSession.ErrStoreUnavailable),
		errors.Is(err, goSession.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "service unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
