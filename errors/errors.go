/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors
var (
	// ErrValidation is returned when an input fails validation before touching storage
	ErrValidation = errors.New("invalid input")

	// ErrNotFound is returned when the target row of an operation does not exist
	ErrNotFound = errors.New("row not found")

	// ErrConstraintViolation is returned when a unique or compound-unique constraint is violated
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrConcurrency is returned when an operation loses a race with a concurrent writer
	ErrConcurrency = errors.New("concurrent modification")

	// ErrFatalIntegrity is returned when a schema invariant is found broken at read time
	ErrFatalIntegrity = errors.New("data integrity broken")
)

// ValidationError reports a malformed input caught before any storage access.
// Field carries the offending field path (e.g. "variants.some.price").
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotFoundError reports a missing target row for an update, delete, or
// required-relation resolution.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConstraintViolationError reports a unique-constraint conflict. Fields lists
// the constrained fields (one entry for a single unique, several for a
// compound unique).
type ConstraintViolationError struct {
	Entity string
	Fields []string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("unique constraint on %s(%s) violated", e.Entity, strings.Join(e.Fields, ", "))
}

func (e *ConstraintViolationError) Is(target error) bool {
	return target == ErrConstraintViolation
}

// ConcurrencyError reports a lost race (upsert collision, lock-acquisition
// timeout). Retrying the whole operation is expected to succeed.
type ConcurrencyError struct {
	Entity    string
	Operation string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s on %s lost a race with a concurrent writer", e.Operation, e.Entity)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrency
}

// FatalIntegrityError reports a broken schema invariant discovered at read
// time, such as a required relation whose parent row is missing. It is not
// retryable and should abort the enclosing transaction.
type FatalIntegrityError struct {
	Entity   string
	Relation string
	Key      string
}

func (e *FatalIntegrityError) Error() string {
	return fmt.Sprintf("required relation %s.%s broken: parent of row %q missing", e.Entity, e.Relation, e.Key)
}

func (e *FatalIntegrityError) Is(target error) bool {
	return target == ErrFatalIntegrity
}

// Helper functions for creating errors

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(entity, key string) error {
	return &NotFoundError{Entity: entity, Key: key}
}

// NewConstraintViolationError creates a new ConstraintViolationError
func NewConstraintViolationError(entity string, fields ...string) error {
	return &ConstraintViolationError{Entity: entity, Fields: fields}
}

// NewConcurrencyError creates a new ConcurrencyError
func NewConcurrencyError(entity, operation string) error {
	return &ConcurrencyError{Entity: entity, Operation: operation}
}

// NewFatalIntegrityError creates a new FatalIntegrityError
func NewFatalIntegrityError(entity, relation, key string) error {
	return &FatalIntegrityError{Entity: entity, Relation: relation, Key: key}
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConstraintViolation checks if an error is a unique-constraint error
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsConcurrency checks if an error is a lost-race error
func IsConcurrency(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

// IsFatalIntegrity checks if an error is a broken-invariant error
func IsFatalIntegrity(err error) bool {
	return errors.Is(err, ErrFatalIntegrity)
}
