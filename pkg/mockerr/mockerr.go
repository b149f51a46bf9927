// Package mockerr defines the error taxonomy shared by the lifecycle
// manager, the dispatcher, and the control-plane API.
package mockerr

import (
	"errors"
	"fmt"
)

// Code identifies an error category carried on the wire as errorCode.
type Code string

// Error codes published by the control plane.
const (
	CodeServerNotFound      Code = "SERVER_NOT_FOUND"
	CodeServerAlreadyExists Code = "SERVER_ALREADY_EXISTS"
	CodeInvalidCertificate  Code = "INVALID_CERTIFICATE"
	CodeServerCreation      Code = "SERVER_CREATION_FAILED"
	CodeInvalidExpectation  Code = "INVALID_EXPECTATION"
	CodeValidation          Code = "VALIDATION_FAILED"
	CodeRelay               Code = "RELAY_ERROR"
	CodeInternal            Code = "INTERNAL_SERVER_ERROR"
	CodeNotMatched          Code = "NOT_MATCHED"
)

// Error is an error with an attached code. Message is safe to return to
// API clients; the wrapped cause is for logs only.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from an error chain.
// Errors without a code map to CodeInternal.
func CodeOf(err error) Code {
	var me *Error
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeInternal
}

// MessageOf extracts the client-safe message from an error chain.
// For uncoded errors the full error text is returned.
func MessageOf(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Message
	}
	return err.Error()
}
