package store

import (
	"errors"
	"fmt"
)

// Store error categories.
var (
	// ErrConnectionFailed indicates a failure to open or reach the database.
	ErrConnectionFailed = errors.New("store: connection failed")

	// ErrQueryFailed indicates a query execution failure.
	ErrQueryFailed = errors.New("store: query failed")

	// ErrNotFound indicates the requested record was not found.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate indicates a uniqueness violation, e.g. a second feedback
	// for the same event.
	ErrDuplicate = errors.New("store: duplicate record")
)

// StoreError wraps store errors with operation context.
type StoreError struct {
	Op    string // Operation that failed (e.g. "Insert", "Query")
	Table string // Table involved, if applicable
	Err   error  // Underlying error
}

// Error returns the error message.
func (e *StoreError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("store.%s(%s): %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate checks if the error is a uniqueness violation.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// WrapConnectionError wraps an error as a connection error.
func WrapConnectionError(op string, err error) error {
	return &StoreError{
		Op:  op,
		Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err),
	}
}

// WrapQueryError wraps an error as a query error.
func WrapQueryError(op, table string, err error) error {
	return &StoreError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: %v", ErrQueryFailed, err),
	}
}

// WrapNotFoundError wraps an error as a not found error.
func WrapNotFoundError(op, table string, id int64) error {
	return &StoreError{
		Op:    op,
		Table: table,
		Err:   fmt.Errorf("%w: id=%d", ErrNotFound, id),
	}
}
