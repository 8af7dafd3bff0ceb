// Package apperr defines the error taxonomy shared by the dispatch core.
//
// Every concrete error type matches one sentinel through errors.Is, so callers
// can classify failures without type assertions:
//
//	if errors.Is(err, apperr.ErrConflict) { ... }
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrOptimization      = errors.New("optimization failed")
	ErrOptimizationParse = errors.New("optimization response not parseable")
	ErrPersistence       = errors.New("persistence failed")
	ErrConflict          = errors.New("assignment conflict")
	ErrIdentity          = errors.New("identity invariant violated")
)

// ValidationError reports the first caller-supplied field that failed a check.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for &ValidationError{Field: field, Reason: reason}.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports a reference to a missing order or driver.
type NotFoundError struct {
	Kind string // "order" | "driver"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// OptimizationError wraps network, auth and timeout failures talking to the optimizer.
type OptimizationError struct {
	Model string
	Err   error
}

func (e *OptimizationError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("optimizer call failed: %v", e.Err)
	}
	return fmt.Sprintf("optimizer call to %s failed: %v", e.Model, e.Err)
}

func (e *OptimizationError) Unwrap() error        { return e.Err }
func (e *OptimizationError) Is(target error) bool { return target == ErrOptimization }

// OptimizationParseError means the optimizer answered but the payload was unusable.
type OptimizationParseError struct {
	Err     error
	Excerpt string
}

func (e *OptimizationParseError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("parse optimizer response: %v", e.Err)
	}
	return fmt.Sprintf("parse optimizer response: %v (near %q)", e.Err, e.Excerpt)
}

func (e *OptimizationParseError) Unwrap() error        { return e.Err }
func (e *OptimizationParseError) Is(target error) bool { return target == ErrOptimizationParse }

// PersistenceError wraps a failed read or write against the backing table store.
type PersistenceError struct {
	Op    string
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error        { return e.Err }
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Conflict describes one dispatched order that a new run wants to move.
type Conflict struct {
	OrderID        string `json:"order_id"`
	CurrentDriver  string `json:"current_driver"`
	ProposedDriver string `json:"proposed_driver"`
}

// ConflictError is returned instead of silently re-assigning dispatched orders.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, fmt.Sprintf("%s: %s -> %s", c.OrderID, c.CurrentDriver, c.ProposedDriver))
	}
	return fmt.Sprintf("%d dispatched order(s) would be reassigned, confirmation required (%s)",
		len(e.Conflicts), strings.Join(parts, "; "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// IdentityError means persisted state holds more than one row per order_id.
type IdentityError struct {
	Duplicates []string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("duplicate order_id in persisted state: %s", strings.Join(e.Duplicates, ", "))
}

func (e *IdentityError) Is(target error) bool { return target == ErrIdentity }
