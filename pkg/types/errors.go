// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrInitialization indicates a worker failed to start or failed its first probe
	ErrInitialization = errors.New("worker initialization failed")

	// ErrWorkerUnavailable indicates the target worker is missing or unhealthy
	ErrWorkerUnavailable = errors.New("worker unavailable")

	// ErrTimeout indicates no response arrived within the retry budget
	ErrTimeout = errors.New("worker request timeout")

	// ErrWorkerFault indicates the execution unit failed unexpectedly
	ErrWorkerFault = errors.New("worker fault")

	// ErrTerminated indicates the worker was terminated while the request was outstanding
	ErrTerminated = errors.New("worker terminated")

	// ErrUnknownWorkerType indicates a request named an unknown capability
	ErrUnknownWorkerType = errors.New("unknown worker type")

	// ErrUnsupportedOperation indicates a request was sent to a worker type that does not serve it
	ErrUnsupportedOperation = errors.New("operation not supported by worker type")

	// ErrUnitStopped indicates a message could not be delivered to a stopped execution unit
	ErrUnitStopped = errors.New("execution unit stopped")
)

// ErrorKind classifies worker-layer failures
type ErrorKind int

const (
	KindInitialization ErrorKind = iota
	KindUnavailable
	KindTimeout
	KindFault
	KindTerminated
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindInitialization:
		return "InitializationError"
	case KindUnavailable:
		return "WorkerUnavailable"
	case KindTimeout:
		return "Timeout"
	case KindFault:
		return "WorkerFault"
	case KindTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInitialization:
		return ErrInitialization
	case KindUnavailable:
		return ErrWorkerUnavailable
	case KindTimeout:
		return ErrTimeout
	case KindFault:
		return ErrWorkerFault
	case KindTerminated:
		return ErrTerminated
	default:
		return nil
	}
}

// WorkerError is a transport-level failure tied to one worker type
type WorkerError struct {
	// Kind classifies the failure
	Kind ErrorKind

	// WorkerType is the capability the request targeted
	WorkerType WorkerType

	// Operation is the request operation, empty for lifecycle failures
	Operation Operation

	// RequestID is the correlation id, empty if the request was never dispatched
	RequestID string

	// Retries is the number of re-transmissions performed before failing
	Retries int

	// Cause is the underlying error, if any
	Cause error
}

// Error implements the error interface
func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("%s: %s worker", e.Kind, e.WorkerType)
	if e.Operation != "" {
		msg += fmt.Sprintf(" operation %s", e.Operation)
	}
	if e.RequestID != "" {
		msg += fmt.Sprintf(" request %s", e.RequestID)
	}
	if e.Kind == KindTimeout {
		msg += fmt.Sprintf(" after %d retries", e.Retries)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *WorkerError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel of the error kind as well as the cause chain
func (e *WorkerError) Is(target error) bool {
	if s := e.Kind.sentinel(); s != nil && target == s {
		return true
	}
	return false
}

// NewWorkerError creates a new worker error
func NewWorkerError(kind ErrorKind, wt WorkerType, cause error) *WorkerError {
	return &WorkerError{
		Kind:       kind,
		WorkerType: wt,
		Cause:      cause,
	}
}

// OperationError is the authoritative failure of an operation that ran correctly on the
// worker or locally, such as decrypting with the wrong key. It is never retried or hidden.
type OperationError struct {
	// Code is a stable machine-readable code, e.g. "DECRYPTION_FAILED"
	Code string

	// Message is the human readable description
	Message string
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewOperationError creates a new operation error
func NewOperationError(code, format string, args ...interface{}) *OperationError {
	return &OperationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

const (
	// CodeOperationFailed is used when a worker reports failure without a code
	CodeOperationFailed = "OPERATION_FAILED"
	// CodeUnsupportedOperation is returned by handlers asked for an operation they do not serve
	CodeUnsupportedOperation = "UNSUPPORTED_OPERATION"
)

// AsOperationError returns the OperationError carried by err, or wraps err in one coded
// CodeOperationFailed. It returns nil for a nil err.
func AsOperationError(err error) *OperationError {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		if opErr.Code == "" {
			return &OperationError{Code: CodeOperationFailed, Message: opErr.Message}
		}
		return opErr
	}
	return &OperationError{Code: CodeOperationFailed, Message: err.Error()}
}

// IsOperationError reports whether err carries an OperationError
func IsOperationError(err error) bool {
	var opErr *OperationError
	return errors.As(err, &opErr)
}

// IsTransportError reports whether err is a worker-layer failure that a consumer may
// recover from by executing the operation locally
func IsTransportError(err error) bool {
	if err == nil || IsOperationError(err) {
		return false
	}
	return errors.Is(err, ErrWorkerUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrWorkerFault) ||
		errors.Is(err, ErrTerminated) ||
		errors.Is(err, ErrInitialization) ||
		errors.Is(err, ErrUnitStopped)
}

// ErrorCode returns the operation code of err, or "" when err is not an OperationError
func ErrorCode(err error) string {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	return ""
}
