// Package errors defines the caller-facing error taxonomy of the wallet.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// DomainError carries a stable code that handlers map to a status.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError with the same code, so wrapped copies still
// compare equal to the package sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of base carrying msg and cause.
func Wrap(base *DomainError, msg string, cause error) *DomainError {
	if msg == "" {
		msg = base.Message
	}
	return &DomainError{Code: base.Code, Message: msg, Err: cause}
}

// Newf returns a copy of base with a formatted message.
func Newf(base *DomainError, format string, args ...interface{}) *DomainError {
	return &DomainError{Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// Code extracts the domain code of err, or "" for foreign errors.
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HTTPStatus maps err to the status a handler should answer with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case CodeInvalidInput, CodeInvalidAmount:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeSignatureInvalid:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInsufficientFunds, CodeAmountMismatch:
		return http.StatusUnprocessableEntity
	case CodeInvalidState:
		return http.StatusConflict
	case CodeProviderError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// Is and As re-export the standard helpers so callers importing this package
// under its own name do not also need the stdlib one.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }
