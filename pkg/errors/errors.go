// Package errors provides a structured error system for syncstore with error codes, categories, and context.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for syncstore operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Network errors
	ErrCodeOffline           ErrorCode = "OFFLINE"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"

	// Storage errors
	ErrCodeStorageRead   ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite  ErrorCode = "STORAGE_WRITE"
	ErrCodeStorageClosed ErrorCode = "STORAGE_CLOSED"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Operation errors
	ErrCodeOperationTimeout ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationFailed  ErrorCode = "OPERATION_FAILED"
	ErrCodeRetryExhausted   ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrCodeDownloadFailed   ErrorCode = "DOWNLOAD_FAILED"

	// Queue errors
	ErrCodeActionNotFound ErrorCode = "ACTION_NOT_FOUND"
	ErrCodeHandlerMissing ErrorCode = "HANDLER_MISSING"
	ErrCodeQueueCorrupt   ErrorCode = "QUEUE_CORRUPT"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryNetwork       ErrorCategory = "network"
	CategoryStorage       ErrorCategory = "storage"
	CategoryOperation     ErrorCategory = "operation"
	CategoryQueue         ErrorCategory = "queue"
	CategoryInternal      ErrorCategory = "internal"
)

// SyncError represents a structured error with context and metadata.
type SyncError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"` // Not serialized to avoid circular refs
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *SyncError) Is(target error) bool {
	if syncErr, ok := target.(*SyncError); ok {
		return e.Code == syncErr.Code
	}
	return false
}

// NewError creates a new syncstore error with default values.
func NewError(code ErrorCode, message string) *SyncError {
	return &SyncError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new syncstore error with an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *SyncError {
	err := NewError(code, message)
	err.Cause = cause
	return err
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case codeStr == "OFFLINE" || strings.HasPrefix(codeStr, "NETWORK_") ||
		strings.HasPrefix(codeStr, "CONNECTION_"):
		return CategoryNetwork
	case strings.HasPrefix(codeStr, "STORAGE_") || strings.HasPrefix(codeStr, "QUOTA_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "RETRY_") ||
		strings.HasPrefix(codeStr, "CIRCUIT_") || strings.HasPrefix(codeStr, "DOWNLOAD_"):
		return CategoryOperation
	case strings.HasPrefix(codeStr, "ACTION_") || strings.HasPrefix(codeStr, "HANDLER_") ||
		strings.HasPrefix(codeStr, "QUEUE_"):
		return CategoryQueue
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	retryableCodes := map[ErrorCode]bool{
		ErrCodeNetworkError:      true,
		ErrCodeConnectionTimeout: true,
		ErrCodeOperationTimeout:  true,
		ErrCodeDownloadFailed:    true,
		ErrCodeInternalError:     true,
	}
	return retryableCodes[code]
}

// WithContext adds contextual information to an error
func (e *SyncError) WithContext(key, value string) *SyncError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *SyncError) WithComponent(component string) *SyncError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *SyncError) WithOperation(operation string) *SyncError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *SyncError) WithCause(cause error) *SyncError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retryable hint
func (e *SyncError) WithRetryable(retryable bool) *SyncError {
	e.Retryable = retryable
	return e
}

// CodeOf extracts the syncstore error code from any error, or
// ErrCodeInternalError when the chain holds no SyncError.
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ErrCodeInternalError
}

// IsOffline reports whether the error chain indicates the device had no
// usable link. The UI distinguishes this from ordinary operation failure.
func IsOffline(err error) bool {
	return CodeOf(err) == ErrCodeOffline
}

// IsRetryable reports whether the error chain carries a retryable hint.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if stderrors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}
