// Package apierror provides the error type shared by the upstream client,
// the service layer and the HTTP layer, and maps it to RFC 7807 problem
// documents.
package apierror

import (
	"errors"
	"fmt"
)

// Titles used across the application.
const (
	DefaultTitle            = "API Error Occurred"
	TitleNotFound           = "Resource Not Found"
	TitleExternalService    = "External Service Error"
	TitleInternalServer     = "Internal Server Error"
	TitleServiceUnavailable = "Service Unavailable"
	TitleInvalidInput       = "Invalid Input"
)

// ErrMethodNotAllowed is returned for requests using an unsupported HTTP method.
var ErrMethodNotAllowed = errors.New("request method not supported")

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ClassClient represents 4xx client errors.
	ClassClient ErrorClass = "client"

	// ClassServer represents 5xx server errors.
	ClassServer ErrorClass = "server"

	// ClassNetwork represents transport and timeout errors.
	ClassNetwork ErrorClass = "network"

	// ClassInternal represents local failures such as undecodable payloads.
	ClassInternal ErrorClass = "internal"
)

// Transient reports whether failures of this class are worth retrying.
func (c ErrorClass) Transient() bool {
	switch c {
	case ClassServer, ClassNetwork:
		return true
	default:
		// 4xx and local failures won't change on retry
		return false
	}
}

// ClassifyStatus returns the class for an HTTP status code >= 400.
func ClassifyStatus(status int) ErrorClass {
	switch {
	case status >= 500:
		return ClassServer
	case status >= 400:
		return ClassClient
	default:
		return ""
	}
}

// Error is the uniform error carried from the integration boundary up to the
// HTTP layer.
type Error struct {
	Detail     string
	Title      string
	StatusCode int
	Class      ErrorClass
	Err        error
}

// New creates an Error without a cause.
func New(detail, title string, statusCode int) *Error {
	return &Error{
		Detail:     detail,
		Title:      title,
		StatusCode: statusCode,
		Class:      ClassifyStatus(statusCode),
	}
}

// Wrap creates an Error caused by err. The class is taken from err when it
// already carries one.
func Wrap(detail, title string, statusCode int, err error) *Error {
	e := New(detail, title, statusCode)
	e.Err = err
	var inner *Error
	var status *StatusError
	switch {
	case errors.As(err, &inner) && inner.Class != "":
		e.Class = inner.Class
	case errors.As(err, &status):
		e.Class = ClassifyStatus(status.StatusCode)
	}
	return e
}

// Invalid creates a 400 validation error.
func Invalid(detail string) *Error {
	return New(detail, TitleInvalidInput, 400)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil && e.Detail == "" {
		return e.Err.Error()
	}
	return e.Detail
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is a raw non-2xx response received from the upstream API.
type StatusError struct {
	StatusCode int
	Status     string
	URL        string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %s", e.URL, e.Status)
}

// IsTransient reports whether err represents a failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Class.Transient()
	}
	var status *StatusError
	if errors.As(err, &status) {
		return ClassifyStatus(status.StatusCode).Transient()
	}
	return false
}

// ClassOf returns the class carried by err, or "" when it has none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	var status *StatusError
	if errors.As(err, &status) {
		return ClassifyStatus(status.StatusCode)
	}
	return ""
}
