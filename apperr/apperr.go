// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindAuthentication      Kind = "AuthenticationError"
	KindAuthorization       Kind = "AuthorizationError"
	KindValidation          Kind = "ValidationError"
	KindLessonLocked        Kind = "LessonLocked"
	KindLessonNotStarted    Kind = "LessonNotStarted"
	KindPrerequisitesNotMet Kind = "PrerequisitesNotMet"
	KindInsufficientXP      Kind = "InsufficientXP"
	KindNotFound            Kind = "NotFoundError"
	KindInternal            Kind = "InternalError"
)

var statusByKind = map[Kind]int{
	KindAuthentication:      http.StatusUnauthorized,
	KindAuthorization:       http.StatusForbidden,
	KindValidation:          http.StatusBadRequest,
	KindLessonLocked:        http.StatusForbidden,
	KindLessonNotStarted:    http.StatusBadRequest,
	KindPrerequisitesNotMet: http.StatusBadRequest,
	KindInsufficientXP:      http.StatusBadRequest,
	KindNotFound:            http.StatusNotFound,
	KindInternal:            http.StatusInternalServerError,
}

// Error is a domain error with a kind, a client-safe message and optional details.
type Error struct {
	Kind    Kind
	Message string
	Details interface{}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.LessonLocked) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// HTTPStatus returns the status code for the error's kind.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Sentinels for errors.Is checks.
var (
	Authentication      = &Error{Kind: KindAuthentication}
	Authorization       = &Error{Kind: KindAuthorization}
	Validation          = &Error{Kind: KindValidation}
	LessonLocked        = &Error{Kind: KindLessonLocked}
	LessonNotStarted    = &Error{Kind: KindLessonNotStarted}
	PrerequisitesNotMet = &Error{Kind: KindPrerequisitesNotMet}
	InsufficientXP      = &Error{Kind: KindInsufficientXP}
	NotFound            = &Error{Kind: KindNotFound}
)

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WithDetails(kind Kind, details interface{}, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Details: details}
}

func Validationf(format string, args ...interface{}) *Error {
	return New(KindValidation, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// As extracts the *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
