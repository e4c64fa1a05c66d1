// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for skillchain.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeCapabilityNotFound indicates a capability id is not registered.
	CodeCapabilityNotFound ErrorCode = "CAPABILITY_NOT_FOUND"

	// CodeDuplicateCapability indicates a capability id is already registered.
	CodeDuplicateCapability ErrorCode = "DUPLICATE_CAPABILITY"

	// CodeMissingRequiredInput indicates a required input has no binding or value.
	CodeMissingRequiredInput ErrorCode = "MISSING_REQUIRED_INPUT"

	// CodeTypeMismatch indicates a value or output type does not match the declared type.
	// It is reported as a warning and never aborts a build.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeCircularDependency indicates a dependency cycle.
	CodeCircularDependency ErrorCode = "CIRCULAR_DEPENDENCY"

	// CodeIncompatibleCapabilities indicates two capabilities cannot be composed.
	CodeIncompatibleCapabilities ErrorCode = "INCOMPATIBLE_CAPABILITIES"

	// CodeToolExecution indicates an external capability invocation failed.
	CodeToolExecution ErrorCode = "TOOL_EXECUTION_ERROR"

	// CodeMaxRetriesExceeded indicates every retry attempt failed.
	CodeMaxRetriesExceeded ErrorCode = "MAX_RETRIES_EXCEEDED"

	// CodeNoAvailableFallback indicates no fallback could satisfy a failed step.
	CodeNoAvailableFallback ErrorCode = "NO_AVAILABLE_FALLBACK"

	// CodeInvalidPlan indicates a malformed plan or chain.
	CodeInvalidPlan ErrorCode = "INVALID_PLAN"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the context was canceled mid-operation.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	// Permanent marks failures that repeat on every attempt (a panic, a
	// missing handler, an open breaker). Retry loops stop on them.
	Permanent bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Permanent   bool                   `json:"permanent,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Recoverable: e.Recoverable,
		Permanent:   e.Permanent,
		Context:     e.Context,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// Newf creates a new Error without cause using a format string.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// WithPermanent marks the error as one that another attempt cannot fix.
func (e *Error) WithPermanent() *Error {
	e.Permanent = true
	e.Recoverable = false
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As converts err to an *Error.
// Returns the first *Error in the chain, or wraps err as CodeInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in the chain, or "" when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether any *Error in the chain carries code.
// Joined errors are searched branch by branch.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if HasCode(inner, code) {
					return true
				}
			}
			return false
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
