// Package errors defines the structured error taxonomy for engine operations.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error type for engine operations.
type ErrorCode string

const (
	// ErrCodeInvalidArgument indicates a malformed request, rejected before
	// any store access.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeExtractionUnavailable indicates the fact extraction capability
	// failed. Retryable for async ingestion.
	ErrCodeExtractionUnavailable ErrorCode = "EXTRACTION_UNAVAILABLE"
	// ErrCodeSynthesisUnavailable indicates the answer generation capability
	// failed.
	ErrCodeSynthesisUnavailable ErrorCode = "SYNTHESIS_UNAVAILABLE"
	// ErrCodeStoreUnavailable indicates the durability layer is unreachable.
	// Never retried automatically.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	// ErrCodeTimeout indicates a caller-specified deadline was exceeded.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeNotFound indicates a referenced object does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
)

// EngineError represents a structured error for engine operations.
type EngineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GetCode returns the error code.
func (e *EngineError) GetCode() ErrorCode {
	return e.Code
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(format string, args ...any) *EngineError {
	return &EngineError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// ExtractionUnavailable creates an extraction capability failure.
func ExtractionUnavailable(cause error) *EngineError {
	return &EngineError{Code: ErrCodeExtractionUnavailable, Message: "fact extraction capability unavailable", Cause: cause}
}

// SynthesisUnavailable creates a generation capability failure.
func SynthesisUnavailable(cause error) *EngineError {
	return &EngineError{Code: ErrCodeSynthesisUnavailable, Message: "answer generation capability unavailable", Cause: cause}
}

// StoreUnavailable creates a durability layer failure.
func StoreUnavailable(cause error) *EngineError {
	return &EngineError{Code: ErrCodeStoreUnavailable, Message: "memory store unavailable", Cause: cause}
}

// Timeout creates a deadline exceeded error.
func Timeout(cause error) *EngineError {
	return &EngineError{Code: ErrCodeTimeout, Message: "operation deadline exceeded", Cause: cause}
}

// NotFound creates a not found error.
func NotFound(format string, args ...any) *EngineError {
	return &EngineError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the engine error code from err, or empty when err is not
// an EngineError.
func CodeOf(err error) ErrorCode {
	var engineErr *EngineError
	if stderrors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}

// IsRetryable reports whether the error is eligible for async retry.
// Extraction failures are transient provider conditions; store failures are
// never retried automatically to avoid duplicate supersede chains.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeExtractionUnavailable, ErrCodeTimeout:
		return true
	}
	return false
}
