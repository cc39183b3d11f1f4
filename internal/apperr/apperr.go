// Package apperr defines the failure taxonomy shared by all services:
// validation (caller-correctable input), not-found (absent reference),
// conflict (uniqueness or invariant violation) and infrastructure
// (store unavailable, transaction failure).
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input shape or range.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an absent referenced entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

// NotFound builds a NotFoundError for the given entity and key.
func NotFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// ConflictError reports a uniqueness or invariant violation. ExistingID
// identifies the row that already holds the contested value, when known; it
// is an int64 for serial-keyed entities and a string for group ids.
type ConflictError struct {
	Reason     string
	ExistingID any
}

func (e *ConflictError) Error() string { return e.Reason }

// Conflictf builds a ConflictError pointing at an existing row.
func Conflictf(existingID any, format string, args ...any) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...), ExistingID: existingID}
}

// InfraError wraps a store or transaction failure that the caller cannot
// correct.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *InfraError) Unwrap() error { return e.Err }

// Infra wraps err as an InfraError. Returns nil if err is nil.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsInfra reports whether err is an InfraError.
func IsInfra(err error) bool {
	var e *InfraError
	return errors.As(err, &e)
}
