package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
	}{
		{"config code", ErrCodeConfigInvalid, CategoryConfig},
		{"storage code", ErrCodeCorruptIndex, CategoryStorage},
		{"embedding code", ErrCodeEmbedTimeout, CategoryEmbedding},
		{"validation code", ErrCodeModelMismatch, CategoryValidation},
		{"internal code", ErrCodeSearchFailed, CategoryInternal},
		{"malformed code", "ERR", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestNew_RetryableFlags(t *testing.T) {
	assert.True(t, New(ErrCodeEmbedTimeout, "timeout", nil).Retryable)
	assert.True(t, New(ErrCodeIndexBusy, "busy", nil).Retryable)
	assert.False(t, New(ErrCodeModelMismatch, "mismatch", nil).Retryable)
}

func TestError_FormatsCodeAndMessage(t *testing.T) {
	err := New(ErrCodeNotIndexed, "project has no index", nil)
	assert.Equal(t, "[ERR_504_NOT_INDEXED] project has no index", err.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("disk went away")
	err := Wrap(ErrCodeCorruptIndex, cause)

	require.NotNil(t, err)
	assert.Equal(t, cause, err.Unwrap())
	assert.True(t, stderrors.Is(err, cause))
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeModelMismatch, "index built with another model", nil)
	b := New(ErrCodeModelMismatch, "different message", nil)
	c := New(ErrCodeSearchFailed, "unrelated", nil)

	assert.True(t, stderrors.Is(a, b))
	assert.False(t, stderrors.Is(a, c))
}

func TestIs_MatchesThroughWrapping(t *testing.T) {
	inner := New(ErrCodeNotIndexed, "no index", nil)
	outer := fmt.Errorf("search: %w", inner)

	assert.True(t, stderrors.Is(outer, &QuarryError{Code: ErrCodeNotIndexed}))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeFileNotFound, "missing", nil).
		WithDetail("path", "src/main.go").
		WithDetail("project", "demo").
		WithSuggestion("run 'quarry index' first")

	assert.Equal(t, "src/main.go", err.Details["path"])
	assert.Equal(t, "demo", err.Details["project"])
	assert.Equal(t, "run 'quarry index' first", err.Suggestion)
}

func TestIsFatal_OnlyForFatalCodes(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeCorruptIndex, "torn db", nil)))
	assert.False(t, IsFatal(New(ErrCodeSearchFailed, "nope", nil)))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.False(t, IsFatal(nil))
}

func TestGetCode_OnPlainError(t *testing.T) {
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
	assert.Equal(t, ErrCodeDaemonDown, GetCode(New(ErrCodeDaemonDown, "socket gone", nil)))
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := New(ErrCodeNotIndexed, "project has no index", nil).
		WithSuggestion("run 'quarry index .'")

	out := FormatForCLI(err)
	assert.Contains(t, out, "project has no index")
	assert.Contains(t, out, "run 'quarry index .'")
	assert.Contains(t, out, ErrCodeNotIndexed)
}

func TestFormatForCLI_WrapsPlainErrors(t *testing.T) {
	out := FormatForCLI(stderrors.New("plain failure"))
	assert.Contains(t, out, "plain failure")
	assert.Contains(t, out, ErrCodeInternal)
}

func TestFormatForLog_FlattensDetails(t *testing.T) {
	err := New(ErrCodeEmbeddingFailed, "embed batch failed", stderrors.New("connection refused")).
		WithDetail("batch", "7")

	attrs := FormatForLog(err)
	assert.Equal(t, ErrCodeEmbeddingFailed, attrs["code"])
	assert.Equal(t, "connection refused", attrs["cause"])
	assert.Equal(t, "7", attrs["detail_batch"])
}
