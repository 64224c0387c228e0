package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the target entity doesn't exist.
	ErrNotFound = errors.New("arbor: entity not found")

	// ErrParentNotFound is returned when the requested parent entity doesn't exist.
	ErrParentNotFound = errors.New("arbor: parent entity not found")

	// ErrConflict is returned when every optimistic attempt of an operation
	// was invalidated by concurrent writers.
	ErrConflict = errors.New("arbor: entity was modified concurrently")

	// ErrIndexInconsistency is returned when stored state fails an internal
	// consistency check, such as an attribute value that doesn't decode.
	// It indicates corruption, not a caller mistake, and is never retried.
	ErrIndexInconsistency = errors.New("arbor: index out of sync with entity data")
)

// ValidationError reports input rejected before any engine command is issued.
type ValidationError struct {
	Field  string // which input was bad: "id", "parent", or an attribute name
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("arbor: invalid %s: %s", e.Field, e.Reason)
}
