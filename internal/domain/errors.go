package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Payment errors (PAYMENT_*)
	ErrorCodePaymentNotFound      ErrorCode = "PAYMENT_NOT_FOUND"
	ErrorCodePaymentDuplicate     ErrorCode = "PAYMENT_DUPLICATE"
	ErrorCodePaymentInvalidState  ErrorCode = "PAYMENT_INVALID_STATE"
	ErrorCodePaymentMethodUnknown ErrorCode = "PAYMENT_METHOD_UNKNOWN"

	// Order errors (ORDER_*)
	ErrorCodeOrderNotFound ErrorCode = "ORDER_NOT_FOUND"

	// Wallet errors (WALLET_*)
	ErrorCodeWalletNotFound          ErrorCode = "WALLET_NOT_FOUND"
	ErrorCodeWalletInsufficientFunds ErrorCode = "WALLET_INSUFFICIENT_FUNDS"
	ErrorCodeWalletDuplicateCredit   ErrorCode = "WALLET_DUPLICATE_CREDIT"

	// Withdrawal errors (WITHDRAWAL_*)
	ErrorCodeWithdrawalNotFound ErrorCode = "WITHDRAWAL_NOT_FOUND"
	ErrorCodeWithdrawalActive   ErrorCode = "WITHDRAWAL_ACTIVE"
	ErrorCodeWithdrawalTerminal ErrorCode = "WITHDRAWAL_TERMINAL"
	ErrorCodeBankNotFound       ErrorCode = "BANK_NOT_FOUND"
	ErrorCodeBankDuplicate      ErrorCode = "BANK_DUPLICATE"

	// OTP errors (OTP_*)
	ErrorCodeOTPNotFound    ErrorCode = "OTP_NOT_FOUND"
	ErrorCodeOTPExpired     ErrorCode = "OTP_EXPIRED"
	ErrorCodeOTPInvalid     ErrorCode = "OTP_INVALID"
	ErrorCodeOTPMaxAttempts ErrorCode = "OTP_MAX_ATTEMPTS_EXCEEDED"
	ErrorCodeOTPRequired    ErrorCode = "OTP_REQUIRED"

	// Gateway errors (GATEWAY_*)
	ErrorCodeGatewayError    ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayTimeout  ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayDeclined ErrorCode = "GATEWAY_DECLINED"

	// Webhook errors (WEBHOOK_*)
	ErrorCodeWebhookBadSignature ErrorCode = "WEBHOOK_BAD_SIGNATURE"
	ErrorCodeWebhookUnknownRef   ErrorCode = "WEBHOOK_UNKNOWN_REFERENCE"
	ErrorCodeWebhookUnhandled    ErrorCode = "WEBHOOK_UNHANDLED_EVENT"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodePaymentNotFound ||
		code == ErrorCodeOrderNotFound ||
		code == ErrorCodeWalletNotFound ||
		code == ErrorCodeWithdrawalNotFound ||
		code == ErrorCodeBankNotFound ||
		code == ErrorCodeOTPNotFound
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationMissingField
}

// IsGatewayError checks if an error is a payment gateway error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayError ||
		code == ErrorCodeGatewayTimeout ||
		code == ErrorCodeGatewayDeclined
}

// Structured error instances
var (
	ErrPaymentNotFound      = NewDomainError(ErrorCodePaymentNotFound, "payment not found")
	ErrDuplicatePayment     = NewDomainError(ErrorCodePaymentDuplicate, "a payment already exists for this order")
	ErrPaymentInvalidState  = NewDomainError(ErrorCodePaymentInvalidState, "payment is in invalid state for this operation")
	ErrUnsupportedMethod    = NewDomainError(ErrorCodePaymentMethodUnknown, "unsupported payment method")
	ErrOrderNotFound        = NewDomainError(ErrorCodeOrderNotFound, "order not found")
	ErrWalletNotFound       = NewDomainError(ErrorCodeWalletNotFound, "wallet not found")
	ErrInsufficientFunds    = NewDomainError(ErrorCodeWalletInsufficientFunds, "insufficient wallet balance")
	ErrDuplicateCredit      = NewDomainError(ErrorCodeWalletDuplicateCredit, "duplicate credit detected for reference")
	ErrWithdrawalNotFound   = NewDomainError(ErrorCodeWithdrawalNotFound, "withdrawal not found")
	ErrActiveWithdrawal     = NewDomainError(ErrorCodeWithdrawalActive, "an unresolved withdrawal already exists")
	ErrWithdrawalTerminal   = NewDomainError(ErrorCodeWithdrawalTerminal, "withdrawal is already in a terminal state")
	ErrBankNotFound         = NewDomainError(ErrorCodeBankNotFound, "bank account not found")
	ErrDuplicateBank        = NewDomainError(ErrorCodeBankDuplicate, "bank account already registered")
	ErrOTPNotFound          = NewDomainError(ErrorCodeOTPNotFound, "otp not found")
	ErrOTPExpired           = NewDomainError(ErrorCodeOTPExpired, "otp has expired")
	ErrOTPInvalid           = NewDomainError(ErrorCodeOTPInvalid, "incorrect otp code")
	ErrOTPMaxAttempts       = NewDomainError(ErrorCodeOTPMaxAttempts, "maximum otp attempts exceeded")
	ErrOTPRequired          = NewDomainError(ErrorCodeOTPRequired, "a validated otp is required")
	ErrGatewayError         = NewDomainError(ErrorCodeGatewayError, "payment gateway error")
	ErrGatewayTimedOut      = NewDomainError(ErrorCodeGatewayTimeout, "payment gateway timeout")
	ErrGatewayDeclined      = NewDomainError(ErrorCodeGatewayDeclined, "payment declined by gateway")
	ErrBadWebhookSignature  = NewDomainError(ErrorCodeWebhookBadSignature, "webhook signature verification failed")
	ErrUnknownWebhookRef    = NewDomainError(ErrorCodeWebhookUnknownRef, "webhook references an unknown payment")
	ErrUnhandledEvent       = NewDomainError(ErrorCodeWebhookUnhandled, "unhandled webhook event type")
	ErrValidationFailed     = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrInvalidAmount        = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
	ErrMissingRequiredField = NewDomainError(ErrorCodeValidationMissingField, "required field missing")
	ErrInternalError        = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError        = NewDomainError(ErrorCodeDatabaseError, "database error")
)
