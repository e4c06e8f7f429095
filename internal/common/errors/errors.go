// Package errors provides standardized error handling for the booking
// notification service.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeSubscriberLookupFailed   ErrorCode = "SUBSCRIBER_LOOKUP_FAILED"
	ErrCodeWebhookDeliveryFailed    ErrorCode = "WEBHOOK_DELIVERY_FAILED"
	ErrCodePayloadValidationFailed  ErrorCode = "PAYLOAD_VALIDATION_FAILED"
	ErrCodeInvalidTrigger           ErrorCode = "INVALID_TRIGGER"
	ErrCodeBookingNotFound          ErrorCode = "BOOKING_NOT_FOUND"
	ErrCodeEventTypeNotFound        ErrorCode = "EVENT_TYPE_NOT_FOUND"
	ErrCodeInvalidBookingState      ErrorCode = "INVALID_BOOKING_STATE"
	ErrCodeEmailSendFailed          ErrorCode = "EMAIL_SEND_FAILED"
	ErrCodeSMSSendFailed            ErrorCode = "SMS_SEND_FAILED"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeAuditIndexFailed         ErrorCode = "AUDIT_INDEX_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewSubscriberLookupFailedError wraps a storage error from subscriber
// resolution. Retryable from the caller's perspective, but the fan-out
// coordinator never retries within a dispatch.
func NewSubscriberLookupFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubscriberLookupFailed,
		Message:   "Database error while resolving webhook subscribers",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewWebhookDeliveryFailedError wraps a per-subscriber delivery failure.
func NewWebhookDeliveryFailedError(endpoint string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWebhookDeliveryFailed,
		Message:   "Webhook delivery failed",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"endpoint": endpoint},
		Timestamp: time.Now().UTC(),
	}
}

// NewPayloadValidationFailedError marks malformed inputs from the booking
// path. Non-retryable: it is an upstream contract violation, not an
// operational failure.
func NewPayloadValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePayloadValidationFailed,
		Message:   "Event payload failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTriggerError marks an unknown trigger kind.
func NewInvalidTriggerError(trigger string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTrigger,
		Message:   "Unknown webhook trigger kind",
		Details:   fmt.Sprintf("trigger: %s", trigger),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewBookingNotFoundError creates a non-retryable lookup error.
func NewBookingNotFoundError(bookingID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeBookingNotFound,
		Message:   "Booking not found",
		Details:   fmt.Sprintf("bookingId: %d", bookingID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventTypeNotFoundError creates a non-retryable lookup error.
func NewEventTypeNotFoundError(eventTypeID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventTypeNotFound,
		Message:   "Event type not found",
		Details:   fmt.Sprintf("eventTypeId: %d", eventTypeID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidBookingStateError marks a transition attempted from the wrong
// booking status.
func NewInvalidBookingStateError(bookingID int64, status, action string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidBookingState,
		Message:   "Booking is not in a valid state for this action",
		Details:   fmt.Sprintf("bookingId: %d, status: %s, action: %s", bookingID, status, action),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmailSendFailedError creates a retryable email error.
func NewEmailSendFailedError(to string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEmailSendFailed,
		Message:   "Failed to send notification email",
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"to": to},
		Timestamp: time.Now().UTC(),
	}
}

// NewSMSSendFailedError creates a retryable SMS error.
func NewSMSSendFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSMSSendFailed,
		Message:   "Failed to send notification SMS",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// IsCode reports whether err is a StandardError carrying code.
func IsCode(err error, code ErrorCode) bool {
	stdErr, ok := err.(*StandardError)
	return ok && stdErr.Code == code
}

// GetErrorCategory groups error codes for logging and metrics labels.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeSubscriberLookupFailed, ErrCodeDatabaseConnectionFailed, ErrCodeQueryExecutionFailed:
		return "storage"
	case ErrCodeWebhookDeliveryFailed, ErrCodeAuditIndexFailed:
		return "delivery"
	case ErrCodeEmailSendFailed, ErrCodeSMSSendFailed:
		return "notification"
	case ErrCodePayloadValidationFailed, ErrCodeInvalidTrigger:
		return "contract"
	default:
		return "business"
	}
}
