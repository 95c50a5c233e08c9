// internal/apperr/apperr.go

// Package apperr holds the error taxonomy shared by the record store,
// the services and the HTTP layer.
//
// Each outcome is a typed error whose Unwrap returns a package sentinel, so
// callers classify with errors.Is and read details with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
)

// NotFoundError reports that the referenced entity does not exist.
type NotFoundError struct {
	Entity string
}

var _ error = NotFoundError{}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found", e.Entity)
}

func (e NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError reports that the request collides with current state.
type ConflictError struct {
	Reason string
}

var _ error = ConflictError{}

func (e ConflictError) Error() string {
	return e.Reason
}

func (e ConflictError) Unwrap() error {
	return ErrConflict
}

// InvalidError reports a field that failed validation.
type InvalidError struct {
	Field   string
	Message string
}

var _ error = InvalidError{}

func (e InvalidError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e InvalidError) Unwrap() error {
	return ErrInvalid
}

func NotFound(entity string) error {
	return NotFoundError{Entity: entity}
}

func Conflict(reason string) error {
	return ConflictError{Reason: reason}
}

func Invalid(field, message string) error {
	return InvalidError{Field: field, Message: message}
}

// IsNotFound reports whether err is a NotFound outcome for the given entity.
// An empty entity matches any NotFound.
func IsNotFound(err error, entity string) bool {
	var nf NotFoundError
	if !errors.As(err, &nf) {
		return false
	}
	return entity == "" || nf.Entity == entity
}

// Message returns the message of the typed error in err's chain,
// dropping the context added by wrapping. Unclassified errors keep err.Error().
func Message(err error) string {
	var (
		nf NotFoundError
		ce ConflictError
		ie InvalidError
	)
	switch {
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &ce):
		return ce.Error()
	case errors.As(err, &ie):
		return ie.Error()
	}
	return err.Error()
}
