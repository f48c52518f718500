package soltok

import (
	"errors"
	"fmt"
)

// Error is a bridge-specific error carrying a stable machine-readable code
// alongside a human-readable message.
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeInvalidSeed            = "invalid_seed"
	ErrCodeInvalidAmount          = "invalid_amount"
	ErrCodeMalformedAccount       = "malformed_account"
	ErrCodeSignerUnavailable      = "signer_unavailable"
	ErrCodeUserRejected           = "user_rejected"
	ErrCodeAmountMismatch         = "amount_mismatch"
	ErrCodeInsufficientBalance    = "insufficient_balance"
	ErrCodeRemoteStoreUnavailable = "remote_store_unavailable"
	ErrCodeStepFailed             = "step_failed"
	ErrCodeOrderNotFound          = "order_not_found"
	ErrCodeEscrowNotFound         = "escrow_not_found"
)

// NewError creates a new bridge error
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Errorf creates a new bridge error with a formatted message and no details
func Errorf(code, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsCode reports whether err (or any error it wraps) is a bridge Error with
// the given code.
func IsCode(err error, code string) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Code == code
	}
	return false
}
