// Package errors provides the structured error type used across the recipe cache, with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderr "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for recipe cache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Outbound API discipline
	ErrCodeRateLimited          ErrorCode = "RATE_LIMITED"
	ErrCodeMonthlyQuotaExceeded ErrorCode = "MONTHLY_QUOTA_EXCEEDED"

	// Persistence errors
	ErrCodeStorageFull  ErrorCode = "STORAGE_FULL"
	ErrCodeStorageRead  ErrorCode = "STORAGE_READ"
	ErrCodeStorageWrite ErrorCode = "STORAGE_WRITE"
	ErrCodeMalformed    ErrorCode = "MALFORMED_DATA"

	// Upstream recipe API errors
	ErrCodeUpstreamFailed      ErrorCode = "UPSTREAM_FAILED"
	ErrCodeUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE"
	ErrCodeCircuitOpen         ErrorCode = "CIRCUIT_OPEN"
	ErrCodeNoResults           ErrorCode = "NO_RESULTS"

	// Lifecycle errors
	ErrCodeNotInitialized     ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState       ErrorCode = "INVALID_STATE"
	ErrCodeShutdownInProgress ErrorCode = "SHUTDOWN_IN_PROGRESS"

	// Generic
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInternalError    ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryStorage       ErrorCategory = "storage"
	CategoryUpstream      ErrorCategory = "upstream"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// Sentinels for errors.Is matching. Matching is by code, so any CacheError
// carrying the same code satisfies errors.Is against these values.
var (
	ErrStorageFull    = &CacheError{Code: ErrCodeStorageFull, Category: CategoryStorage, Message: "storage full"}
	ErrRateLimited    = &CacheError{Code: ErrCodeRateLimited, Category: CategoryRateLimit, Message: "rate limited"}
	ErrNotInitialized = &CacheError{Code: ErrCodeNotInitialized, Category: CategoryState, Message: "not initialized"}
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable  bool `json:"retryable"`
	UserFacing bool `json:"user_facing"`
	HTTPStatus int  `json:"http_status,omitempty"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if other, ok := target.(*CacheError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from its code.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Retryable:  IsRetryableByDefault(code),
		UserFacing: IsUserFacingByDefault(code),
		HTTPStatus: GetDefaultHTTPStatus(code),
	}
}

// Wrap creates a new error with the given code around cause.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	case ErrCodeRateLimited, ErrCodeMonthlyQuotaExceeded:
		return CategoryRateLimit
	case ErrCodeStorageFull, ErrCodeStorageRead, ErrCodeStorageWrite, ErrCodeMalformed:
		return CategoryStorage
	case ErrCodeUpstreamFailed, ErrCodeUpstreamTimeout, ErrCodeUpstreamUnavailable,
		ErrCodeCircuitOpen, ErrCodeNoResults:
		return CategoryUpstream
	case ErrCodeNotInitialized, ErrCodeInvalidState, ErrCodeShutdownInProgress:
		return CategoryState
	case ErrCodeValidationFailed:
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeUpstreamTimeout, ErrCodeUpstreamUnavailable, ErrCodeInternalError:
		return true
	}
	return false
}

// IsUserFacingByDefault determines if an error message may be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeRateLimited, ErrCodeMonthlyQuotaExceeded, ErrCodeNoResults,
		ErrCodeValidationFailed, ErrCodeInvalidConfig:
		return true
	}
	return false
}

// GetDefaultHTTPStatus returns the default HTTP status for an error code.
func GetDefaultHTTPStatus(code ErrorCode) int {
	statusMap := map[ErrorCode]int{
		ErrCodeInvalidConfig:        400,
		ErrCodeValidationFailed:     400,
		ErrCodeNoResults:            404,
		ErrCodeInvalidState:         409,
		ErrCodeRateLimited:          429,
		ErrCodeMonthlyQuotaExceeded: 429,
		ErrCodeStorageFull:          507,
		ErrCodeUpstreamFailed:       502,
		ErrCodeNotInitialized:       503,
		ErrCodeShutdownInProgress:   503,
		ErrCodeUpstreamUnavailable:  503,
		ErrCodeCircuitOpen:          503,
		ErrCodeUpstreamTimeout:      504,
	}
	if status, ok := statusMap[code]; ok {
		return status
	}
	return 500
}

// WithDetail adds detailed information to an error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// RateLimited builds the error returned when the per-minute budget is spent.
func RateLimited(retryAfter time.Duration) *CacheError {
	seconds := int((retryAfter + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return NewError(ErrCodeRateLimited,
		fmt.Sprintf("API rate limit reached, try again in %d seconds", seconds)).
		WithDetail("retry_after_seconds", seconds)
}

// StorageFull builds a storage-full error for the given key.
func StorageFull(key string, cause error) *CacheError {
	return NewError(ErrCodeStorageFull, "storage quota exceeded").
		WithDetail("key", key).
		WithCause(cause)
}

// GetCode returns the code of the first CacheError in err's chain.
func GetCode(err error) ErrorCode {
	var ce *CacheError
	if stderr.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsStorageFull reports whether err signals a storage-full condition.
func IsStorageFull(err error) bool {
	return err != nil && stderr.Is(err, ErrStorageFull)
}

// IsRateLimited reports whether err is a per-minute or monthly API denial.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	code := GetCode(err)
	return code == ErrCodeRateLimited || code == ErrCodeMonthlyQuotaExceeded
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var ce *CacheError
	if stderr.As(err, &ce) {
		return ce.Retryable
	}
	return false
}
