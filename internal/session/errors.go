package session

import (
	"errors"
	"fmt"
	"strings"
)

// StoreError is the error type surfaced by backing-store operations.
//
// Error categories:
//   - Validation: wrong element/key/value type, missing metadata,
//     inconsistent owner linkage. Raised before any statement executes.
//   - Datastore: SQL execution failure. Carries the failing statement text
//     and, for batches, every underlying cause rather than just the first.
//   - NotFound: a get by key/index matched no row. Distinct from Datastore
//     so callers can tell "legitimately absent" from "query failed".
//   - InvalidState: illegal API use, e.g. iterator remove before next.
//   - Internal: invariant breakage, e.g. a COUNT query returning no rows.
type StoreError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// SQL is the failing statement text, for Datastore errors.
	SQL string

	// Causes holds every underlying failure when multiple statements were
	// attempted in a batch or loop.
	Causes []error
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a user-configuration or type error
	// detected before statement execution.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeDatastore indicates a SQL execution failure.
	ErrCodeDatastore ErrorCode = "DATASTORE"

	// ErrCodeNotFound indicates a lookup that matched no row.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInvalidState indicates illegal API use.
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodeInternal indicates an internal-consistency failure.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error implements the error interface.
func (e *StoreError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Code, e.Message)
	if e.SQL != "" {
		fmt.Fprintf(&sb, " (sql=%q)", e.SQL)
	}
	if len(e.Causes) == 1 {
		fmt.Fprintf(&sb, ": %v", e.Causes[0])
	} else if len(e.Causes) > 1 {
		fmt.Fprintf(&sb, ": %d causes:", len(e.Causes))
		for _, c := range e.Causes {
			fmt.Fprintf(&sb, " [%v]", c)
		}
	}
	return sb.String()
}

// Unwrap exposes every cause to errors.Is/errors.As traversal.
func (e *StoreError) Unwrap() []error {
	return e.Causes
}

// NewValidationError creates a StoreError for a pre-execution validation
// failure.
func NewValidationError(format string, args ...any) *StoreError {
	return &StoreError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewDatastoreError wraps SQL-execution failures with the offending
// statement text. All causes are retained.
func NewDatastoreError(sql string, causes ...error) *StoreError {
	return &StoreError{
		Code:    ErrCodeDatastore,
		Message: "statement execution failed",
		SQL:     sql,
		Causes:  causes,
	}
}

// NewNotFoundError creates a StoreError for a lookup that matched no row.
func NewNotFoundError(format string, args ...any) *StoreError {
	return &StoreError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidStateError creates a StoreError for illegal API use.
func NewInvalidStateError(format string, args ...any) *StoreError {
	return &StoreError{Code: ErrCodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// NewInternalError creates a StoreError for invariant breakage.
func NewInternalError(format string, args ...any) *StoreError {
	return &StoreError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// IsValidation returns true if the error is a validation error.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsDatastore returns true if the error is a datastore execution error.
func IsDatastore(err error) bool { return hasCode(err, ErrCodeDatastore) }

// IsNotFound returns true if the error is a not-found error.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsInvalidState returns true if the error is an invalid-state error.
func IsInvalidState(err error) bool { return hasCode(err, ErrCodeInvalidState) }

func hasCode(err error, code ErrorCode) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}
