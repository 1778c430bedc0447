package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/craftcurio/marketplace/internal/auth"
	"github.com/craftcurio/marketplace/internal/database"
	"github.com/craftcurio/marketplace/internal/models"
	"github.com/craftcurio/marketplace/internal/payment"
)

var (
	errForbidden    = errors.New("you are not allowed to access this resource")
	errUnauthorized = errors.New("authentication required")
)

// envelope is the body of every response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

func respondMessage(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, envelope{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, envelope{Success: false, Message: message, Error: code})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", slog.Any("err", err))
	}
}

// statusFromError maps a domain error to its HTTP status, a stable error code
// and the message shown to the client.
func statusFromError(err error) (int, string, string) {
	var (
		ve    *models.ValidationError
		gwErr *payment.GatewayError
	)

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid_request", ve.Message

	case errors.As(err, &gwErr):
		return http.StatusInternalServerError, "payment_" + string(gwErr.Kind), gwErr.Error()

	case errors.Is(err, errUnauthorized),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthorized", err.Error()

	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden", err.Error()

	case errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrVerificationNotFound):
		return http.StatusNotFound, "not_found", err.Error()

	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature", err.Error()

	case errors.Is(err, database.ErrOrderNotCancellable),
		errors.Is(err, database.ErrAlreadyPaid),
		errors.Is(err, database.ErrEmptyCart),
		errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, database.ErrProductUnavailable),
		errors.Is(err, payment.ErrAmountTooSmall),
		errors.Is(err, payment.ErrOrderMismatch):
		return http.StatusBadRequest, "invalid_state", err.Error()

	case errors.Is(err, database.ErrEmailTaken),
		errors.Is(err, database.ErrVerificationActive),
		errors.Is(err, database.ErrVerificationDecided),
		errors.Is(err, database.ErrOptimisticLockFailed):
		return http.StatusConflict, "conflict", err.Error()

	case errors.Is(err, database.ErrLockTimeout),
		errors.Is(err, database.ErrOrderNumberExhausted):
		return http.StatusServiceUnavailable, "busy", "the request could not be completed, please retry"

	case errors.Is(err, payment.ErrWebhookNotConfigured):
		return http.StatusServiceUnavailable, "webhook_disabled", err.Error()

	case database.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid_request", "malformed identifier or value"

	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// fail writes err as an error envelope. Server-side failures are logged with
// the request context.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := statusFromError(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.String("code", code), slog.Any("err", err))
	}
	respondError(w, status, code, message)
}
