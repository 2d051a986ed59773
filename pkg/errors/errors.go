// Package errors provides structured error types for nlink.
//
// This package defines error codes and types that enable:
//   - Consistent error handling across the CLI and the analysis pipeline
//   - Machine-readable error codes for the run manifest
//   - Error wrapping with context preservation
//
// # Error Codes
//
// The codes mirror the failure taxonomy of a basin analysis run:
//   - INVALID_*: input validated at the API boundary before any work starts
//   - MISSING_NODE: a page id referenced but absent from the link store
//   - DATA_CONSISTENCY: reverse BFS observed a node twice (fatal for that job)
//   - BUDGET_EXCEEDED: a depth or row cap stopped a basin map early (recoverable)
//   - TRUNCATED: a trace hit its step cap before reaching HALT or a cycle
//   - STORE_IO: the backing link store failed
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidInput, "n must be >= 1, got %d", n)
//	if errors.Is(err, errors.ErrCodeInvalidInput) {
//	    // Handle validation error
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeStoreIO, origErr, "scan links")
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidCycle  Code = "INVALID_CYCLE"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"

	// Graph data errors
	ErrCodeMissingNode     Code = "MISSING_NODE"
	ErrCodeDataConsistency Code = "DATA_CONSISTENCY"

	// Early stops
	ErrCodeBudgetExceeded Code = "BUDGET_EXCEEDED"
	ErrCodeTruncated      Code = "TRUNCATED"

	// Storage errors
	ErrCodeStoreIO  Code = "STORE_IO"
	ErrCodeNotFound Code = "NOT_FOUND"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// coder is implemented by typed errors that carry their own code.
type coder interface {
	Code() Code
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error or a typed error with a
// Code method whose code matches.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode extracts the error code from an error, if available.
// The outermost coded error in the chain wins. For aggregates (errors.Join,
// go-multierror) the first coded member wins. Returns empty string if no
// error in the chain carries a code.
func GetCode(err error) Code {
	for err != nil {
		switch e := err.(type) {
		case *Error:
			return e.Code
		case coder:
			return e.Code()
		case interface{ WrappedErrors() []error }:
			return firstCode(e.WrappedErrors())
		case interface{ Unwrap() []error }:
			return firstCode(e.Unwrap())
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func firstCode(errs []error) Code {
	for _, err := range errs {
		if c := GetCode(err); c != "" {
			return c
		}
	}
	return ""
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// MissingNodeError reports a page id that is referenced but absent from the
// link store.
type MissingNodeError struct {
	Node int64 // The absent id
	From int64 // The page whose link sequence referenced it, or -1
}

// Error implements the error interface.
func (e *MissingNodeError) Error() string {
	if e.From >= 0 {
		return fmt.Sprintf("missing node %d (referenced by %d)", e.Node, e.From)
	}
	return fmt.Sprintf("missing node %d", e.Node)
}

// Code returns the error code for this error type.
func (e *MissingNodeError) Code() Code { return ErrCodeMissingNode }

// ConsistencyError reports a node reached twice during a reverse BFS, or a
// predecessor edge that disagrees with the forward successor relation.
type ConsistencyError struct {
	Node       int64  // The node observed twice
	Via        int64  // The frontier node it was reached from the second time
	PriorEntry int64  // Entry id recorded on the first visit, or -1
	Reason     string // Short description of the violation
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("data consistency: node %d via %d (prior entry %d): %s",
		e.Node, e.Via, e.PriorEntry, e.Reason)
}

// Code returns the error code for this error type.
func (e *ConsistencyError) Code() Code { return ErrCodeDataConsistency }

// BudgetExceededError describes a basin map stopped by a depth or row cap.
type BudgetExceededError struct {
	Limit string // "max_depth" or "max_rows"
	Value int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: %s=%d", e.Limit, e.Value)
}

// Code returns the error code for this error type.
func (e *BudgetExceededError) Code() Code { return ErrCodeBudgetExceeded }
