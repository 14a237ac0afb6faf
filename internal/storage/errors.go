package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by updates that target a missing id.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateID is returned when adding a record whose id already exists.
	ErrDuplicateID = errors.New("record id already exists")

	// ErrUnavailable marks a backend that could not be opened or reached.
	ErrUnavailable = errors.New("storage backend unavailable")
)

// Error describes a failed read or write against a backend.
type Error struct {
	Op      string
	Backend Backend
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s storage: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, otherwise an *Error. Errors that already
// carry an *Error are returned unchanged.
func Wrap(backend Backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Backend: backend, Err: err}
}
