// Package errors provides standardized error handling for the billing pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Gateway outcomes
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE" // network/timeout/5xx
	ErrCodeChargeRejected     ErrorCode = "CHARGE_REJECTED"     // explicit decline

	// Per-subscriber billing errors
	ErrCodeMissingPaymentMethod ErrorCode = "MISSING_PAYMENT_METHOD"

	// Infrastructure errors
	ErrCodeLedgerUnavailable      ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeWebhookInvalid         ErrorCode = "WEBHOOK_INVALID"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// NewGatewayUnavailableError creates a retryable error for transport failures,
// timeouts and 5xx responses from the payment gateway. The underlying charge
// may still have completed; a later webhook settles it either way.
func NewGatewayUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayUnavailable,
		Message:   "Payment gateway unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewChargeRejectedError creates a non-retryable error for an explicit decline.
func NewChargeRejectedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChargeRejected,
		Message:   "Charge rejected by gateway",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingPaymentMethodError creates a non-retryable per-subscriber error.
func NewMissingPaymentMethodError(userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingPaymentMethod,
		Message:   "No saved payment method for subscriber",
		Details:   fmt.Sprintf("userId: %d", userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerUnavailableError creates a retryable error for ledger connectivity
// or transaction failures. Callers must not continue as if the write succeeded.
func NewLedgerUnavailableError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerUnavailable,
		Message:   "Ledger operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewNotificationSendFailedError creates an error for notification delivery.
// Always non-fatal for billing state transitions; callers log and move on.
func NewNotificationSendFailedError(kind string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("kind: %s, error: %s", kind, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewWebhookInvalidError creates a non-retryable error for webhook payloads
// that fail schema validation.
func NewWebhookInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookInvalid,
		Message:   "Webhook payload failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether err carries a retryable StandardError.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// HasCode reports whether err carries a StandardError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}
