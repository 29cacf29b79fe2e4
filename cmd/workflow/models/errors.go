package models

import (
	"fmt"
	"strings"
)

// NonUniqueNameError is returned when a workflow name already exists
type NonUniqueNameError struct {
	Name string
}

func (e *NonUniqueNameError) Error() string {
	return fmt.Sprintf("workflow with name '%s' already exists", e.Name)
}

// MissingInputsError is returned when a submission lacks inputs required by
// input-connector links
type MissingInputsError struct {
	Missing []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("missing required inputs: %s", strings.Join(e.Missing, ", "))
}

// InvalidLinksError is returned when two links target the same
// (destination, property) pair
type InvalidLinksError struct {
	Destination string
	Property    string
}

func (e *InvalidLinksError) Error() string {
	return fmt.Sprintf("duplicate data flow into %s.%s", e.Destination, e.Property)
}

// NoSuchEntityError is returned when a workflow, task, method or execution
// id does not resolve
type NoSuchEntityError struct {
	Kind string
	ID   string
}

func (e *NoSuchEntityError) Error() string {
	return fmt.Sprintf("%s with id %s was not found", e.Kind, e.ID)
}

// UpdateError is returned on an illegal execution state transition
type UpdateError struct {
	From ExecutionStatus
	To   ExecutionStatus
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("illegal status transition from %s to %s", e.From, e.To)
}

// UnknownIntegrityError wraps a database integrity violation not otherwise
// classified
type UnknownIntegrityError struct {
	Cause error
}

func (e *UnknownIntegrityError) Error() string {
	return fmt.Sprintf("unknown integrity error: %v", e.Cause)
}

func (e *UnknownIntegrityError) Unwrap() error {
	return e.Cause
}
