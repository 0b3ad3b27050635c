package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrStaleWrite is returned when a guarded update matched no row, e.g. an
// execution that already reached a terminal state or a position already closed.
var ErrStaleWrite = errors.New("row changed concurrently or is already terminal")

// PersistenceError wraps a failed store operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// retryableWrite tells transient database failures from ones a retry cannot fix.
func retryableWrite(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrCheckConstraintViolated),
		errors.Is(err, ErrStaleWrite):
		return false
	}
	return true
}
