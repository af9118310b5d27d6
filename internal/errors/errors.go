package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error kind mapped to process exit codes.
type Code int

const (
	CodeSuccess         Code = 0
	CodeInternal        Code = 1
	CodeUsage           Code = 2
	CodeConfig          Code = 3
	CodeAuth            Code = 10
	CodeUpstreamHTTP    Code = 12
	CodeUpstreamNetwork Code = 13
	CodeBlocked         Code = 16
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "ok"
	case CodeUsage:
		return "validation_error"
	case CodeConfig:
		return "config_error"
	case CodeAuth:
		return "auth_error"
	case CodeUpstreamHTTP:
		return "upstream_http_error"
	case CodeUpstreamNetwork:
		return "upstream_network_error"
	case CodeBlocked:
		return "tool_blocked"
	default:
		return "internal_error"
	}
}

// Error is a typed error that carries a stable error code. Upstream HTTP
// failures also carry the response status and body.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Status  int
	Body    string
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

// HTTP builds an upstream HTTP error for a non-2xx response.
func HTTP(status int, statusText, body string) *Error {
	return &Error{
		Code:    CodeUpstreamHTTP,
		Message: fmt.Sprintf("upstream returned status %d %s", status, statusText),
		Status:  status,
		Body:    body,
	}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func IsCode(err error, code Code) bool {
	if cErr, ok := As(err); ok {
		return cErr.Code == code
	}
	return false
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
