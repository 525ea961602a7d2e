package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrNoSchema is returned when a table has not been created yet
	ErrNoSchema = errors.New("schema not initialized")
)

const (
	// sqliteConstraint is SQLITE_CONSTRAINT; extended codes share its low byte
	sqliteConstraint = 19
	sqliteError      = 1
	// pgUndefinedTable is the SQLSTATE for a missing relation
	pgUndefinedTable = "42P01"
)

// PersistenceError is a failed write or read for one record
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ConstraintError is a write rejected by a constraint other than the
// record's own natural key, such as a reference to a missing instrument.
type ConstraintError struct {
	Op         string
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Constraint != "" {
		return fmt.Sprintf("%s: constraint %s violated: %v", e.Op, e.Constraint, e.Err)
	}
	return fmt.Sprintf("%s: constraint violated: %v", e.Op, e.Err)
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// classify wraps a driver error in the store's error taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &PersistenceError{Op: op, Err: err}
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch {
		case se.Code()&0xff == sqliteConstraint:
			return &ConstraintError{Op: op, Err: err}
		case se.Code() == sqliteError && strings.Contains(se.Error(), "no such table"):
			return &PersistenceError{Op: op, Err: fmt.Errorf("%w: %v", ErrNoSchema, err)}
		}
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch {
		case strings.HasPrefix(pe.Code, "23"):
			return &ConstraintError{Op: op, Constraint: pe.ConstraintName, Err: err}
		case pe.Code == pgUndefinedTable:
			return &PersistenceError{Op: op, Err: fmt.Errorf("%w: %v", ErrNoSchema, err)}
		}
	}

	return &PersistenceError{Op: op, Err: err}
}
