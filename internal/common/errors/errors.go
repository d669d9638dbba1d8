// Package errors provides standardized error handling for the notification core.
package errors

import (
	goerrors "errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeTemplateNotFound     ErrorCode = "TEMPLATE_NOT_FOUND"
	ErrCodeTemplateInactive     ErrorCode = "TEMPLATE_INACTIVE"
	ErrCodeTemplateRenderFailed ErrorCode = "TEMPLATE_RENDER_FAILED"
	ErrCodeTemplateInvalid      ErrorCode = "TEMPLATE_VALIDATION_FAILED"

	ErrCodeRecipientUnresolvable ErrorCode = "RECIPIENT_UNRESOLVABLE"

	ErrCodeInvalidModule         ErrorCode = "INVALID_MODULE"
	ErrCodeRouteResolutionFailed ErrorCode = "ROUTE_RESOLUTION_FAILED"
	ErrCodeDeepLinkInvalid       ErrorCode = "DEEPLINK_INVALID"
	ErrCodeDeepLinkExpiryInPast  ErrorCode = "DEEPLINK_EXPIRY_IN_PAST"

	ErrCodeDeliveryTransient ErrorCode = "DELIVERY_TRANSIENT"
	ErrCodeDeliveryPermanent ErrorCode = "DELIVERY_PERMANENT"

	ErrCodeThrottled ErrorCode = "THROTTLED"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueueUnavailable         ErrorCode = "QUEUE_UNAVAILABLE"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var se *StandardError
	if goerrors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsRetryable reports whether err is a retryable StandardError.
// Unknown error types count as retryable so transient infrastructure
// failures are not silently dropped.
func IsRetryable(err error) bool {
	var se *StandardError
	if goerrors.As(err, &se) {
		return se.Retryable
	}
	return true
}

// ==========================
// 2. Error Constructors
// ==========================

// NewTemplateNotFoundError creates a non-retryable template lookup error.
func NewTemplateNotFoundError(name, locale string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateNotFound,
		Message:   "Notification template not found",
		Details:   fmt.Sprintf("name: %s, locale: %s", name, locale),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateInactiveError creates a non-retryable error for disabled templates.
func NewTemplateInactiveError(name string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateInactive,
		Message:   "Notification template is inactive",
		Details:   fmt.Sprintf("name: %s", name),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateRenderError creates a non-retryable render error.
func NewTemplateRenderError(field string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateRenderFailed,
		Message:   "Template rendering failed",
		Details:   fmt.Sprintf("field: %s, error: %v", field, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewTemplateInvalidError creates a non-retryable template validation error.
func NewTemplateInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateInvalid,
		Message:   "Template definition failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRecipientUnresolvableError creates a non-retryable caller error.
func NewRecipientUnresolvableError(identifier string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecipientUnresolvable,
		Message:   "Recipient could not be resolved to a user",
		Details:   fmt.Sprintf("identifier: %s", identifier),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidModuleError creates a non-retryable deep-link module error.
func NewInvalidModuleError(module string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidModule,
		Message:   "Deep link module is not registered",
		Details:   fmt.Sprintf("module: %s", module),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRouteResolutionError creates a non-retryable route resolution error.
func NewRouteResolutionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRouteResolutionFailed,
		Message:   "Deep link route could not be resolved",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeepLinkInvalidError creates a non-retryable token validation error.
func NewDeepLinkInvalidError(token, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeepLinkInvalid,
		Message:   "Deep link token is not valid",
		Details:   fmt.Sprintf("token: %s, reason: %s", token, reason),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeepLinkExpiryInPastError rejects mint requests whose expiry already passed.
func NewDeepLinkExpiryInPastError(expiresAt time.Time) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeepLinkExpiryInPast,
		Message:   "Deep link expiry is in the past",
		Details:   fmt.Sprintf("expires_at: %s", expiresAt.UTC().Format(time.RFC3339)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryTransientError creates a retryable channel delivery error.
func NewDeliveryTransientError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryTransient,
		Message:   "Channel delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %v", channel, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewDeliveryPermanentError creates a non-retryable channel delivery error
// (unregistered device token, malformed address and the like).
func NewDeliveryPermanentError(channel, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryPermanent,
		Message:   "Channel delivery failed permanently",
		Details:   fmt.Sprintf("channel: %s, %s", channel, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewThrottledError marks a notification suppressed by throttle limits.
func NewThrottledError(templateName string, userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeThrottled,
		Message:   "Notification suppressed by throttle configuration",
		Details:   fmt.Sprintf("template: %s, user: %d", templateName, userID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %v", operation, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewQueueUnavailableError creates a retryable work queue error.
func NewQueueUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueUnavailable,
		Message:   "Work queue unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}
