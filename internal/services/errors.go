package services

import (
	"errors"
	"strings"

	"github.com/diewo77/go-pos/validation"
	"gorm.io/gorm"
)

// Error categories. Handlers map them to status codes with errors.Is.
var (
	ErrValidation   = errors.New("validation_failed")
	ErrNotFound     = errors.New("not_found")
	ErrInvalidState = errors.New("invalid_state")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage_failure")
)

// Error carries a stable snake_case code under one of the categories.
type Error struct {
	Kind   error
	Code   string
	Fields validation.Violations
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Code + ": " + e.cause.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.Kind, e.cause}
	}
	return []error{e.Kind}
}

var (
	ErrEmptyLines      = &Error{Kind: ErrValidation, Code: "lines_required"}
	ErrMissingTenant   = &Error{Kind: ErrValidation, Code: "tenant_required"}
	ErrSaleNotFound    = &Error{Kind: ErrNotFound, Code: "sale_not_found"}
	ErrProductNotFound = &Error{Kind: ErrNotFound, Code: "product_not_found"}
	ErrTableNotFound   = &Error{Kind: ErrNotFound, Code: "table_not_found"}
	ErrClosingNotFound = &Error{Kind: ErrNotFound, Code: "closing_not_found"}
	ErrSaleNotOpen     = &Error{Kind: ErrInvalidState, Code: "sale_not_open"}
	ErrTableOccupied   = &Error{Kind: ErrConflict, Code: "table_occupied"}
	ErrNothingToClose  = &Error{Kind: ErrConflict, Code: "nothing_to_close"}
	// ErrPurgeIncomplete means a Z closing could not delete exactly the
	// captured range; the whole closing was rolled back.
	ErrPurgeIncomplete = &Error{Kind: ErrStorage, Code: "purge_incomplete"}
)

var (
	ErrCategoryNotFound = &Error{Kind: ErrNotFound, Code: "category_not_found"}

	// ErrInvalidCategory rejects a product naming a category the tenant
	// does not own.
	ErrInvalidCategory = &Error{Kind: ErrValidation, Code: "invalid_category", Fields: validation.Violations{"category_id": "not_found"}}
)

func invalid(v validation.Violations) error {
	return &Error{Kind: ErrValidation, Code: "validation_failed", Fields: v}
}

// notFoundProduct keeps ErrProductNotFound matchable while naming the id.
func notFoundProduct(field string) error {
	return &Error{Kind: ErrNotFound, Code: ErrProductNotFound.Code, Fields: validation.Violations{field: "not_found"}, cause: ErrProductNotFound}
}

// storage wraps a database error, leaving service errors untouched so a
// transaction callback can return either.
func storage(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: ErrStorage, Code: "storage_failure", cause: err}
}

// CodeOf returns the snake_case code for err, or "internal_error".
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return "internal_error"
}

// FieldsOf returns per-field details attached to err, if any.
func FieldsOf(err error) validation.Violations {
	var se *Error
	if errors.As(err, &se) {
		return se.Fields
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// isSerializationFailure detects SQLSTATE 40001 raised by PostgreSQL at
// REPEATABLE READ when a locked row changed under the snapshot.
func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") || strings.Contains(msg, "could not serialize access")
}
