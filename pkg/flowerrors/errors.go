// Package flowerrors provides structured error handling for StrataFlow with
// error categorization, key-value context, and automatic stack capture.
//
// The error taxonomy mirrors the failure model of the ingestion core:
//
//   - ErrorTypeConfig / ErrorTypeValidation: invalid run parameters or paths,
//     surfaced before any I/O begins
//   - ErrorTypeData: a record or chunk failed to decode; recoverable,
//     aggregated into counters by the caller
//   - ErrorTypeFile: input unreadable or output unwritable; fatal for the
//     affected stage
//   - ErrorTypeTimeout: the ingestion wall-clock budget expired
//   - ErrorTypeAnalytics: the estimator's source table is missing or empty,
//     reported as a typed failure distinct from a zero-valued result
//
// Usage:
//
//	err := flowerrors.New(flowerrors.ErrorTypeValidation, "sample_fraction out of range").
//	    WithDetail("sample_fraction", frac)
//
//	if err := os.Rename(old, bak); err != nil {
//	    return flowerrors.Wrap(err, flowerrors.ErrorTypeFile, "backup rotation failed").
//	        WithDetail("path", old)
//	}
package flowerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error, used for propagation policy
// decisions and audit reporting.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents parameter validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents record-level decode/parse errors
	ErrorTypeData ErrorType = "data"
	// ErrorTypeFile represents file I/O errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeTimeout represents wall-clock budget expiry
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeAnalytics represents estimator source failures
	ErrorTypeAnalytics ErrorType = "analytics"
)

// Sentinel causes for the two analytics failure modes. Callers distinguish
// "nothing to estimate" from "estimated zero" by checking these with
// errors.Is.
var (
	// ErrSourceUnavailable indicates the output table cannot be read.
	ErrSourceUnavailable = errors.New("source table unavailable")
	// ErrEmptySample indicates the table has a header but no rows.
	ErrEmptySample = errors.New("no rows to sample")
)

// Error represents a structured error with context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the original stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks whether the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// IsFatal reports whether the error should abort the run. Record-level
// data errors are the only recoverable category.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	return e.Type != ErrorTypeData
}

// captureStack captures the current call stack.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
