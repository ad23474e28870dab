package pairing

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("pairing: invalid selection")

	// ErrInconsistent matches every *InconsistencyError.
	ErrInconsistent = errors.New("pairing: inconsistent state")

	// ErrAlreadyStarted is returned by Start on a running reconciler.
	ErrAlreadyStarted = errors.New("pairing: reconciler already started")

	// ErrNotStarted is returned by operations that need live sets before Start.
	ErrNotStarted = errors.New("pairing: reconciler not started")
)

// Sides of a selection, used as ValidationError.Field.
const (
	FieldVehicle = "vehicle"
	FieldBeacon  = "beacon"
)

// ValidationError reports a selection that cannot be confirmed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func missing(field string) *ValidationError {
	return &ValidationError{Field: field, Reason: "is required"}
}

// InconsistencyError reports a two-step operation whose second write failed
// after the first was applied. The records are left as Completed describes
// until a corrective write is made.
type InconsistencyError struct {
	Operation string
	Completed string
	Failed    string
	Err       error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("%s: %s: %s succeeded but %s failed: %v",
		ErrInconsistent, e.Operation, e.Completed, e.Failed, e.Err)
}

func (e *InconsistencyError) Unwrap() []error { return []error{ErrInconsistent, e.Err} }
