// Package apperrors defines the error taxonomy shared by services,
// repositories and handlers. Callers match with errors.Is.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates malformed or contradictory input. Nothing is
	// persisted when a validation error is returned.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a concurrent write race, e.g. two writers
	// creating the same rule version. Transient; safe to retry.
	ErrConflict = errors.New("conflict")

	// ErrInvalidState indicates a transition attempted on a record in the
	// wrong state.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyResolved indicates an approve or reject on a change request
	// that is already terminal.
	ErrAlreadyResolved = errors.New("change request already resolved")

	// ErrStaleReference indicates a referenced rule's state drifted since
	// the change request was created.
	ErrStaleReference = errors.New("stale rule reference")
)

// DeploymentWarning reports a post-commit deployment failure. The approval
// it follows is already durable and is never reverted; deployment can be
// retried independently.
type DeploymentWarning struct {
	FactType string
	Err      error
}

func (w *DeploymentWarning) Error() string {
	return fmt.Sprintf("deployment for fact type %q failed: %v", w.FactType, w.Err)
}

func (w *DeploymentWarning) Unwrap() error {
	return w.Err
}
