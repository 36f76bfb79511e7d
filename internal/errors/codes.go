// Package errors provides structured error handling for Quarry.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage and file I/O errors
//   - 3XX: Embedder and network errors
//   - 4XX: Validation and query errors
//   - 5XX: Internal and daemon errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index storage and file I/O errors.
	CategoryStorage Category = "STORAGE"
	// CategoryEmbedding indicates embedder and network errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryValidation indicates input and query validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage and I/O errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileTooLarge = "ERR_202_FILE_TOO_LARGE"
	ErrCodeCorruptIndex = "ERR_203_CORRUPT_INDEX"
	ErrCodeStoreClosed  = "ERR_204_STORE_CLOSED"
	ErrCodeIndexBusy    = "ERR_205_INDEX_BUSY"

	// Embedder and network errors (300-399)
	ErrCodeEmbedTimeout        = "ERR_301_EMBED_TIMEOUT"
	ErrCodeEmbedderUnavailable = "ERR_302_EMBEDDER_UNAVAILABLE"
	ErrCodeEmbeddingFailed     = "ERR_303_EMBEDDING_FAILED"

	// Validation and query errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryEmpty        = "ERR_403_QUERY_EMPTY"
	ErrCodeModelMismatch     = "ERR_404_MODEL_MISMATCH"
	ErrCodeInvalidPath       = "ERR_405_INVALID_PATH"

	// Internal and daemon errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_503_INDEX_FAILED"
	ErrCodeNotIndexed   = "ERR_504_NOT_INDEXED"
	ErrCodeDaemonDown   = "ERR_505_DAEMON_UNREACHABLE"
)

// categoryFromCode extracts the category from an error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "203" from "ERR_203_CORRUPT_INDEX".
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on the error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex:
		return SeverityFatal
	}
	if isRetryableCode(code) {
		return SeverityWarning
	}
	return SeverityError
}

// isRetryableCode reports whether an error code represents a transient failure.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedTimeout, ErrCodeEmbedderUnavailable, ErrCodeIndexBusy:
		return true
	default:
		return false
	}
}
