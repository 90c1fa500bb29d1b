// Package errors provides structured CLI errors with categories, remediation
// steps, and exit-code mapping for the camcode command-line tool.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory classifies a CLI error for exit codes and display.
type ErrorCategory int

const (
	// Argument indicates invalid or missing command-line arguments.
	Argument ErrorCategory = iota
	// Configuration indicates bad config files or provider settings.
	Configuration
	// Prerequisite indicates a missing external requirement (agent CLI,
	// API key, workspace).
	Prerequisite
	// Runtime indicates a failure during session execution.
	Runtime
)

// String returns the display name for the category.
func (c ErrorCategory) String() string {
	switch c {
	case Argument:
		return "Argument Error"
	case Configuration:
		return "Configuration Error"
	case Prerequisite:
		return "Prerequisite Error"
	case Runtime:
		return "Runtime Error"
	default:
		return "Error"
	}
}

// ExitCode maps a category to the process exit code.
func (c ErrorCategory) ExitCode() int {
	switch c {
	case Argument:
		return 2
	case Configuration:
		return 3
	case Prerequisite:
		return 4
	case Runtime:
		return 1
	default:
		return 1
	}
}

// CLIError is a user-facing error with remediation guidance.
type CLIError struct {
	Category    ErrorCategory
	Message     string
	Remediation []string
	Usage       string
	cause       error
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap exposes the wrapped cause, if any.
func (e *CLIError) Unwrap() error {
	return e.cause
}

// NewArgumentError creates an Argument-category error.
func NewArgumentError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Argument, Message: message, Remediation: remediation}
}

// NewArgumentErrorWithUsage creates an Argument error with a usage line.
func NewArgumentErrorWithUsage(message, usage string, remediation ...string) *CLIError {
	return &CLIError{Category: Argument, Message: message, Usage: usage, Remediation: remediation}
}

// NewConfigError creates a Configuration-category error.
func NewConfigError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Configuration, Message: message, Remediation: remediation}
}

// NewPrerequisiteError creates a Prerequisite-category error.
func NewPrerequisiteError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Prerequisite, Message: message, Remediation: remediation}
}

// NewRuntimeError creates a Runtime-category error.
func NewRuntimeError(message string, remediation ...string) *CLIError {
	return &CLIError{Category: Runtime, Message: message, Remediation: remediation}
}

// Wrap attaches a category and remediation to an existing error.
// Returns nil if err is nil.
func Wrap(err error, category ErrorCategory, remediation ...string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category:    category,
		Message:     err.Error(),
		Remediation: remediation,
		cause:       err,
	}
}

// WrapWithMessage wraps an error with an outer message prefix.
// Returns nil if err is nil.
func WrapWithMessage(err error, category ErrorCategory, message string) *CLIError {
	if err == nil {
		return nil
	}
	return &CLIError{
		Category: category,
		Message:  fmt.Sprintf("%s: %s", message, err.Error()),
		cause:    err,
	}
}

// IsCLIError reports whether err is (or wraps) a *CLIError.
func IsCLIError(err error) bool {
	var cliErr *CLIError
	return stderrors.As(err, &cliErr)
}

// AsCLIError returns the *CLIError in err's chain, or nil.
func AsCLIError(err error) *CLIError {
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) {
		return cliErr
	}
	return nil
}
