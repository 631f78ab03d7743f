// Package respond renders service results and domain errors as JSON for the
// internal API handlers.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sokomarket/payment-service/internal/domain"
)

// JSON writes a JSON body with the given status
func JSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error renders a domain error with the HTTP status its code maps to.
// Non-domain errors become an opaque 500.
func Error(w http.ResponseWriter, err error) {
	var derr *domain.DomainError
	if !errors.As(err, &derr) {
		JSON(w, http.StatusInternalServerError, errorBody{
			Code:    string(domain.ErrorCodeInternalError),
			Message: "internal server error",
		})
		return
	}

	status := statusFor(derr.Code)
	body := errorBody{Code: string(derr.Code), Message: derr.Message}
	if status < http.StatusInternalServerError && len(derr.Details) > 0 {
		body.Details = derr.Details
	}
	if status == http.StatusInternalServerError {
		body.Message = "internal server error"
	}
	JSON(w, status, body)
}

func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodePaymentNotFound,
		domain.ErrorCodeOrderNotFound,
		domain.ErrorCodeWalletNotFound,
		domain.ErrorCodeWithdrawalNotFound,
		domain.ErrorCodeBankNotFound,
		domain.ErrorCodeOTPNotFound:
		return http.StatusNotFound
	case domain.ErrorCodePaymentDuplicate,
		domain.ErrorCodeWithdrawalActive,
		domain.ErrorCodeBankDuplicate:
		return http.StatusConflict
	case domain.ErrorCodePaymentInvalidState,
		domain.ErrorCodeWithdrawalTerminal:
		return http.StatusConflict
	case domain.ErrorCodeWalletInsufficientFunds:
		return http.StatusUnprocessableEntity
	case domain.ErrorCodeOTPExpired,
		domain.ErrorCodeOTPInvalid,
		domain.ErrorCodeOTPRequired:
		return http.StatusUnauthorized
	case domain.ErrorCodeOTPMaxAttempts:
		return http.StatusTooManyRequests
	case domain.ErrorCodePaymentMethodUnknown,
		domain.ErrorCodeValidationFailed,
		domain.ErrorCodeValidationAmountInvalid,
		domain.ErrorCodeValidationMissingField:
		return http.StatusBadRequest
	case domain.ErrorCodeGatewayDeclined:
		return http.StatusPaymentRequired
	case domain.ErrorCodeGatewayError,
		domain.ErrorCodeGatewayTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
