// Package apperr defines the error taxonomy shared by the entry points.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindOwnership
	KindProvider
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindOwnership:
		return "ownership"
	case KindProvider:
		return "provider"
	default:
		return "internal"
	}
}

// Error carries a user-facing message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) error { return &Error{Kind: KindValidation, Message: msg} }

func Auth(msg string, err error) error { return &Error{Kind: KindAuth, Message: msg, Err: err} }

func NotFound(msg string) error { return &Error{Kind: KindNotFound, Message: msg} }

func Ownership(msg string) error { return &Error{Kind: KindOwnership, Message: msg} }

func Provider(msg string, err error) error { return &Error{Kind: KindProvider, Message: msg, Err: err} }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindOwnership:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
