package errors

import (
	"errors"
	"fmt"
)

// Error types for classifying failures of the supervisor itself.
// Misbehaviour of the sandboxed program is never reported through these.

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeUsage         ErrorType = "usage"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeNotExecutable ErrorType = "not_executable"
	ErrorTypeLaunch        ErrorType = "launch"
	ErrorTypeProcess       ErrorType = "process"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeInternal      ErrorType = "internal"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Invocation errors
func NewUsageError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeUsage, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

// Target precondition errors
func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewNotExecutableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotExecutable, message, cause)
}

// Process errors
func NewLaunchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeLaunch, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

// System errors
func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// Error checking helpers
func IsUsageError(err error) bool {
	return hasType(err, ErrorTypeUsage)
}

func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

func IsNotExecutableError(err error) bool {
	return hasType(err, ErrorTypeNotExecutable)
}

func IsLaunchError(err error) bool {
	return hasType(err, ErrorTypeLaunch)
}

func IsProcessError(err error) bool {
	return hasType(err, ErrorTypeProcess)
}

func IsTimeoutError(err error) bool {
	return hasType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return hasType(err, ErrorTypeIO)
}

func IsInternalError(err error) bool {
	return hasType(err, ErrorTypeInternal)
}

func hasType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == errorType
}

// AsDomainError returns the first DomainError in the chain, or wraps err as
// an internal error when there is none.
func AsDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return NewInternalError(err.Error(), err)
}

// Error aggregation for bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
