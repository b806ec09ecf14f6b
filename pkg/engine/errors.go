package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents the classification of an orchestration failure.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on a later run.
	// Examples: network timeouts, controller restarts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassRejected indicates the controller refused a request it understood.
	ErrorClassRejected ErrorClass = "rejected"

	// ErrorClassValidation indicates the declaration itself is unusable.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassPermanent indicates a non-recoverable error.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified orchestration error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource identifies the resource (kind/name) that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the orchestration step being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewRejectedError creates a new rejected error.
func NewRejectedError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRejected, Message: message, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err, Code: ErrCodeValidation}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is transient. Transport errors
// that report themselves as temporary count as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) && e.Class == ErrorClassTransient {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodePolicy           = "POLICY_VIOLATION"
	ErrCodeHardStop         = "HARD_STOP"
	ErrCodeDependencyAbsent = "DEPENDENCY_ABSENT"
	ErrCodeTimeout          = "TIMEOUT"
)

// TransportError reports that a request could not be completed or that its
// response cannot be trusted: connection failures, timeouts, non-success
// statuses on reads and deletes, and bodies that are not JSON.
type TransportError struct {
	Op     string
	Method string
	Path   string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s %s", e.Op, e.Method, e.Path)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether a later attempt could plausibly succeed.
func (e *TransportError) Temporary() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusTooManyRequests, e.Status >= 500:
		return true
	default:
		return false
	}
}

// DecodingError reports a response body that does not match the schema
// expected for its resource kind.
type DecodingError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *DecodingError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: field %q: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// CreationRejected is returned by a create call when the controller answers
// with a non-success status. No remote object exists afterwards.
type CreationRejected struct {
	Kind   Kind
	Name   string
	Status int
	Body   string
}

func (e *CreationRejected) Error() string {
	return fmt.Sprintf("create %s %q rejected: status %d: %s", e.Kind, e.Name, e.Status, e.Body)
}

// IsTransportError reports whether err wraps a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsDecodingError reports whether err wraps a DecodingError.
func IsDecodingError(err error) bool {
	var de *DecodingError
	return errors.As(err, &de)
}

// AsCreationRejected extracts a CreationRejected from err.
func AsCreationRejected(err error) (*CreationRejected, bool) {
	var cr *CreationRejected
	if errors.As(err, &cr) {
		return cr, true
	}
	return nil, false
}
