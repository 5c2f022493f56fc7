package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/josh-kwaku/retail-ledger/internal/domain"
	"github.com/josh-kwaku/retail-ledger/internal/logging"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func RespondAppError(w http.ResponseWriter, appErr *AppError, details any) {
	RespondJSON(w, appErr.Status, APIError{
		Message: appErr.Message,
		Code:    appErr.Code,
		Details: details,
	})
}

func RespondValidationError(w http.ResponseWriter, fields []FieldError) {
	RespondAppError(w, ErrValidationFailed, fields)
}

// domainErrors maps sentinels to responses. Anything not listed, including
// ErrAccountNotFound and exhausted version conflicts, is a 500.
var domainErrors = []struct {
	err    error
	appErr *AppError
}{
	{domain.ErrInvalidAmount, ErrInvalidAmount},
	{domain.ErrInsufficientFunds, ErrInsufficientFunds},
	{domain.ErrRecipientNotFound, ErrRecipientNotFound},
	{domain.ErrSelfTransfer, ErrSelfTransfer},
	{domain.ErrLimitExceeded, ErrLimitExceeded},
	{domain.ErrInvalidFilter, ErrInvalidFilter},
	{domain.ErrAccountExists, ErrAccountExists},
	{domain.ErrInvalidCredentials, ErrInvalidCredentials},
	{domain.ErrInvalidRequest, ErrInvalidRequest},
}

func RespondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context())

	for _, m := range domainErrors {
		if errors.Is(err, m.err) {
			log.Warn("request rejected", "code", m.appErr.Code, "error", err)
			RespondAppError(w, m.appErr, nil)
			return
		}
	}

	log.Error("unhandled domain error", "error", err)
	RespondAppError(w, ErrInternalError, nil)
}
