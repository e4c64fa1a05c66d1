// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/skillchain/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

func newInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument %q: %s", arg, reason), nil).
		WithContext("argument", arg)
	return NewCLIError(e, "run 'skillchain help' for usage information")
}

func newConfigError(err error) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err)
	return NewCLIError(e, "check --config, --profile and --set values")
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeCapabilityNotFound:
		return "run 'skillchain list' to see registered capabilities"
	case errors.CodeCircularDependency:
		return "break the cycle in the capabilities' dependencies"
	case errors.CodeMissingRequiredInput:
		return "bind every required input in the plan or pass --input"
	case errors.CodeInvalidPlan:
		return "run 'skillchain validate' or check the plan file"
	case errors.CodeTimeout:
		return "try increasing the timeout with --timeout"
	case errors.CodeNoAvailableFallback, errors.CodeMaxRetriesExceeded:
		return "check the capability backend or configure executor.fallbacks"
	}
	return ""
}

// printError renders err on w, as JSON when asJSON is set.
func printError(w io.Writer, err error, asJSON bool) {
	var cliErr *CLIError
	if !stderrors.As(err, &cliErr) {
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			cliErr = NewCLIError(typed, hintFor(typed.Code))
		}
	}

	if asJSON {
		payload := map[string]any{"message": err.Error()}
		if cliErr != nil && cliErr.Err != nil {
			payload = map[string]any{
				"code":        cliErr.Err.Code,
				"message":     cliErr.Err.Error(),
				"recoverable": cliErr.Err.Recoverable,
			}
			if cliErr.Hint != "" {
				payload["hint"] = cliErr.Hint
			}
		}
		data, _ := json.Marshal(map[string]any{"error": payload})
		fmt.Fprintln(w, string(data))
		return
	}

	if cliErr == nil || cliErr.Err == nil {
		fmt.Fprintf(w, "Error: %s\n", err)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", cliErr.Err.Code, cliErr.Err.Error())
	if cliErr.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", cliErr.Hint)
	}
}
