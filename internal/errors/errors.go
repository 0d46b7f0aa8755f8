package errors

import (
	stderrors "errors"
	"fmt"
)

// MaintError is the structured error type for mongomaint.
// It provides rich context for error handling, logging, and user presentation.
type MaintError struct {
	// Code is the unique error code (e.g., "ERR_401_INDEX_MISMATCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, State, Server, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// ErrAborted is returned when the user declines to continue.
var ErrAborted = New(ErrCodeUserAbort, "aborted by user", nil)

// Error implements the error interface.
func (e *MaintError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MaintError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with MaintError.
func (e *MaintError) Is(target error) bool {
	if t, ok := target.(*MaintError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *MaintError) WithDetail(key, value string) *MaintError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *MaintError) WithSuggestion(suggestion string) *MaintError {
	e.Suggestion = suggestion
	return e
}

// New creates a new MaintError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *MaintError {
	return &MaintError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a MaintError from an existing error.
// The error's message becomes the MaintError message.
func Wrap(code string, err error) *MaintError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *MaintError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StateError creates a checkpoint or report file error.
func StateError(message string, cause error) *MaintError {
	return New(ErrCodeStateWrite, message, cause)
}

// ServerError creates a MongoDB command error.
// Server command errors are typically retryable.
func ServerError(message string, cause error) *MaintError {
	return New(ErrCodeCommand, message, cause)
}

// VerifyError creates an index verification error.
func VerifyError(message string, cause error) *MaintError {
	return New(ErrCodeIndexMismatch, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *MaintError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if any error in the chain is a MaintError with Retryable set.
func IsRetryable(err error) bool {
	var me *MaintError
	if stderrors.As(err, &me) {
		return me.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current run.
func IsFatal(err error) bool {
	var me *MaintError
	if stderrors.As(err, &me) {
		return me.Severity == SeverityFatal
	}
	return false
}

// IsAborted reports whether the error chain contains a user abort.
func IsAborted(err error) bool {
	return stderrors.Is(err, ErrAborted)
}

// GetCode extracts the error code from a MaintError in the chain.
// Returns empty string if none is found.
func GetCode(err error) string {
	var me *MaintError
	if stderrors.As(err, &me) {
		return me.Code
	}
	return ""
}

// GetCategory extracts the category from a MaintError in the chain.
// Returns empty string if none is found.
func GetCategory(err error) Category {
	var me *MaintError
	if stderrors.As(err, &me) {
		return me.Category
	}
	return ""
}
