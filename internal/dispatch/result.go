package dispatch

import (
	"errors"

	"dmeRoutePlanner/internal/apperr"
)

// Result is the success flag and human readable reason every command reports.
type Result struct {
	OK     bool   `json:"ok"`
	Kind   string `json:"kind,omitempty"`
	Reason string `json:"reason"`
}

// Describe turns a command's error into a Result.
func Describe(err error, okReason string) Result {
	if err == nil {
		return Result{OK: true, Reason: okReason}
	}
	return Result{Kind: Kind(err), Reason: err.Error()}
}

// Kind names the error class of err, or "internal" when it has none.
func Kind(err error) string {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return "validation"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrOptimizationParse):
		return "optimization_parse"
	case errors.Is(err, apperr.ErrOptimization):
		return "optimization"
	case errors.Is(err, apperr.ErrPersistence):
		return "persistence"
	case errors.Is(err, apperr.ErrIdentity):
		return "identity"
	default:
		return "internal"
	}
}
