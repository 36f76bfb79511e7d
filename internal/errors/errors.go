package errors

import (
	"fmt"
)

// QuarryError is the structured error type used across the indexer,
// stores, and daemon. It carries a stable code for programmatic handling
// plus context for logging and user presentation.
type QuarryError struct {
	// Code is the unique error code (e.g. "ERR_203_CORRUPT_INDEX").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *QuarryError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QuarryError) Unwrap() error {
	return e.Cause
}

// Is matches QuarryErrors by code, enabling errors.Is comparisons
// against sentinel instances.
func (e *QuarryError) Is(target error) bool {
	if t, ok := target.(*QuarryError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail and returns the error for chaining.
func (e *QuarryError) WithDetail(key, value string) *QuarryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable suggestion and returns the error for chaining.
func (e *QuarryError) WithSuggestion(suggestion string) *QuarryError {
	e.Suggestion = suggestion
	return e
}

// New creates a QuarryError with the given code and message.
// Category, severity, and the retryable flag are derived from the code.
func New(code string, message string, cause error) *QuarryError {
	return &QuarryError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a QuarryError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *QuarryError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a QuarryError from an existing error, preserving it as the cause.
// Returns nil when err is nil.
func Wrap(code string, err error) *QuarryError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *QuarryError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates an index-storage error.
func StorageError(message string, cause error) *QuarryError {
	return New(ErrCodeCorruptIndex, message, cause)
}

// EmbeddingError creates an embedder-related error.
func EmbeddingError(message string, cause error) *QuarryError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// ValidationError creates an input-validation error.
func ValidationError(message string, cause error) *QuarryError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *QuarryError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable reports whether err is a QuarryError flagged retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QuarryError); ok {
		return qe.Retryable
	}
	return false
}

// IsFatal reports whether err carries fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QuarryError); ok {
		return qe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" when err is not a QuarryError.
func GetCode(err error) string {
	if qe, ok := err.(*QuarryError); ok {
		return qe.Code
	}
	return ""
}

// GetCategory extracts the category, or "" when err is not a QuarryError.
func GetCategory(err error) Category {
	if qe, ok := err.(*QuarryError); ok {
		return qe.Category
	}
	return ""
}
