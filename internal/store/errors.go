package store

import "errors"

// Sentinel errors surfaced across the tool boundary. The server maps each
// one to a {success:false, error} result; operations that hit them after
// partial writes roll back to pre-state.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrDependenciesNotDone = errors.New("dependencies not done")
	ErrCycle               = errors.New("dependency cycle")
	ErrMissingDependency   = errors.New("missing dependency")
	ErrHasDependents       = errors.New("task has dependents")
	ErrHasCompletedWork    = errors.New("user story has completed work")
	ErrExternalDependents  = errors.New("user story has external dependents")
	ErrValidation          = errors.New("validation error")
)
