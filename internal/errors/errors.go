package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess    Code = 0
	CodeInternal   Code = 1
	CodeUsage      Code = 2
	CodeSpec       Code = 3
	CodePathBuild  Code = 4
	CodeAuth       Code = 10
	CodeTimeout    Code = 11
	CodeConnection Code = 12
	CodeHTTP       Code = 13
	CodeHTTPStatus Code = 14
	CodeValidation Code = 15
	CodeHook       Code = 16
	CodeBlocked    Code = 17
)

// Error is a typed CLI error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
	// Detail is optional structured context rendered alongside the message,
	// such as the decoded body of a non-2xx response.
	Detail any
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithDetail attaches structured context and returns the same error.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	cliErr, ok := As(err)
	return ok && cliErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the machine-readable error type used in error envelopes.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeSpec:
		return "spec_error"
	case CodePathBuild:
		return "path_build_error"
	case CodeAuth:
		return "auth_error"
	case CodeTimeout:
		return "timeout"
	case CodeConnection:
		return "connection_error"
	case CodeHTTP:
		return "http_error"
	case CodeHTTPStatus:
		return "http_status"
	case CodeValidation:
		return "validation_error"
	case CodeHook:
		return "hook_error"
	case CodeBlocked:
		return "command_blocked"
	default:
		return "internal_error"
	}
}
