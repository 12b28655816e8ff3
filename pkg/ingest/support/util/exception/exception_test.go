package exception_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pagecliff/ingest/pkg/ingest/support/util/exception"

	"github.com/stretchr/testify/assert"
)

// Custom error type for testing reflection and type matching
type CustomError struct {
	Msg string
}

func (e *CustomError) Error() string {
	return fmt.Sprintf("CustomError: %s", e.Msg)
}

func TestNewPipelineError(t *testing.T) {
	originalErr := errors.New("db connection refused")
	// NewPipelineError signature is (module, message, originalErr, isSkippable, isRetryable)
	pe := exception.NewPipelineError("repository", "failed to connect", originalErr, false, true)

	assert.Equal(t, "repository", pe.Module)
	assert.Equal(t, "failed to connect", pe.Message)
	assert.Equal(t, originalErr, pe.Unwrap())
	assert.True(t, pe.IsRetryable())
	assert.False(t, pe.IsSkippable())
	assert.Contains(t, pe.Error(), "[repository] failed to connect: db connection refused")
	assert.NotEmpty(t, pe.StackTrace)
}

func TestNewPipelineErrorf(t *testing.T) {
	// Only message args
	pe1 := exception.NewPipelineErrorf("runner", "page %d not found", 10)
	assert.False(t, pe1.IsRetryable())
	assert.False(t, pe1.IsSkippable())
	assert.Nil(t, pe1.Unwrap())
	assert.Contains(t, pe1.Error(), "[runner] page 10 not found")

	// A single trailing bool is interpreted as isRetryable.
	pe2 := exception.NewPipelineErrorf("source", "timeout occurred", true)
	assert.True(t, pe2.IsRetryable())
	assert.False(t, pe2.IsSkippable())

	// Trailing (isSkippable, isRetryable) pair.
	pe3 := exception.NewPipelineErrorf("merge", "bad record %d", 5, true, false)
	assert.False(t, pe3.IsRetryable())
	assert.True(t, pe3.IsSkippable())

	// Trailing error.
	originalErr := errors.New("io error")
	pe4 := exception.NewPipelineErrorf("source", "read failed", originalErr)
	assert.Equal(t, originalErr, pe4.Unwrap())

	// Flags and error together: (..., isSkippable, isRetryable, err).
	pe5 := exception.NewPipelineErrorf("source", "fetch of page %d failed", 7, true, true, originalErr)
	assert.True(t, pe5.IsRetryable())
	assert.True(t, pe5.IsSkippable())
	assert.Equal(t, originalErr, pe5.Unwrap())
	assert.Contains(t, pe5.Error(), "fetch of page 7 failed")
}

func TestIsPipelineError(t *testing.T) {
	assert.True(t, exception.IsPipelineError(exception.NewPipelineError("dlq", "capture failed", nil, false, false)))
	assert.False(t, exception.IsPipelineError(errors.New("plain")))
	assert.False(t, exception.IsPipelineError(nil))
}

func TestIsErrorOfType(t *testing.T) {
	assert.True(t, exception.IsErrorOfType(&CustomError{Msg: "boom"}, "exception_test.CustomError"))

	wrapped := fmt.Errorf("outer: %w", &CustomError{Msg: "boom"})
	assert.True(t, exception.IsErrorOfType(wrapped, "exception_test.CustomError"))

	assert.False(t, exception.IsErrorOfType(errors.New("other"), "exception_test.CustomError"))
	assert.False(t, exception.IsErrorOfType(nil, "exception_test.CustomError"))
}

func TestConcurrentUpdateException(t *testing.T) {
	pe := exception.NewConcurrentUpdateException("checkpoint", "lease lost", nil)
	assert.True(t, exception.IsConcurrentUpdate(pe))
	assert.False(t, pe.IsRetryable())
	assert.False(t, pe.IsSkippable())

	assert.False(t, exception.IsConcurrentUpdate(errors.New("plain")))
}

func TestExtractErrorMessage(t *testing.T) {
	pe := exception.NewPipelineError("gate", "classification failed", errors.New("inner detail"), false, false)
	assert.Equal(t, "classification failed", exception.ExtractErrorMessage(pe))
	assert.Equal(t, "plain failure", exception.ExtractErrorMessage(errors.New("plain failure")))
	assert.Equal(t, "", exception.ExtractErrorMessage(nil))
}
