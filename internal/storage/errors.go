package storage

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every *Error matches exactly one of them via errors.Is.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when input is rejected before it is stored.
	ErrValidation = errors.New("validation error")
	// ErrDatabase is returned for failures of the underlying store.
	ErrDatabase = errors.New("database error")
	// ErrConflict is returned for duplicate ids and stale versions.
	ErrConflict = errors.New("conflict")
)

// ErrorKind classifies a repository failure.
type ErrorKind int

// Error kinds
const (
	KindNotFound ErrorKind = iota
	KindValidation
	KindDatabase
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindValidation:
		return "ValidationError"
	case KindDatabase:
		return "DatabaseError"
	case KindConflict:
		return "ConflictError"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	}
	return ErrDatabase
}

// Error is a repository failure with its kind, the operation and the entity id.
type Error struct {
	Kind ErrorKind
	Op   string
	ID   string
	Err  error
}

// NewError builds an *Error.
func NewError(kind ErrorKind, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// NotFound builds a KindNotFound error for id.
func NotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, ID: id}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	msg += ": " + e.Kind.sentinel().Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind's sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Err}
}

// KindOf returns the kind of a repository error, or KindDatabase for any
// other non-nil error.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	}
	return KindDatabase
}
