package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/straye-as/salesflow-api/internal/domain"
	"github.com/straye-as/salesflow-api/internal/repository"
	"gorm.io/gorm"
)

// Sentinels matched with errors.Is against the typed errors below
var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidState    = errors.New("resource is not in a state permitting the operation")
	ErrRemoteOperation = errors.New("remote operation failed")
	ErrPartialFailure  = errors.New("operation partially completed")
	ErrConflict        = errors.New("resource was modified concurrently")
)

// ValidationError reports missing or invalid input. It is always raised
// before anything is written.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing record, or one whose state forbids the
// operation when State is set.
type NotFoundError struct {
	Entity string
	ID     string
	State  string
}

func (e *NotFoundError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.State)
	}
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	if e.State != "" {
		return target == ErrInvalidState || target == ErrNotFound
	}
	return target == ErrNotFound
}

// RemoteOperationError wraps a failed data-store or collaborator call.
// Nothing of the current operation was committed.
type RemoteOperationError struct {
	Operation string
	Err       error
}

func (e *RemoteOperationError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *RemoteOperationError) Unwrap() error        { return e.Err }
func (e *RemoteOperationError) Is(target error) bool { return target == ErrRemoteOperation }

// PartialFailureError reports a multi-step operation whose external effects
// (Completed) happened but whose bookkeeping did not. Re-invoking the
// operation is safe and finishes the remaining steps.
type PartialFailureError struct {
	Operation string
	Completed []string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s partially completed (done: %s): %v", e.Operation, strings.Join(e.Completed, ", "), e.Err)
}

func (e *PartialFailureError) Unwrap() error        { return e.Err }
func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// ConflictError reports an optimistic concurrency failure
type ConflictError struct {
	Entity string
	ID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified by another request; reload and retry", e.Entity, e.ID)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// isTyped reports whether err already belongs to the taxonomy
func isTyped(err error) bool {
	var (
		ve *ValidationError
		nf *NotFoundError
		re *RemoteOperationError
		pf *PartialFailureError
		ce *ConflictError
	)
	return errors.As(err, &ve) || errors.As(err, &nf) || errors.As(err, &re) ||
		errors.As(err, &pf) || errors.As(err, &ce)
}

// classify maps a raw error from a data-store call into the taxonomy
func classify(operation, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if isTyped(err) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	if errors.Is(err, repository.ErrVersionConflict) {
		return &ConflictError{Entity: entity, ID: id}
	}
	return &RemoteOperationError{Operation: operation, Err: err}
}

var validate = validator.New()

// validateInput runs struct tag validation and converts failures to ValidationError
func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Fields: map[string]string{"request": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[lowerFirst(fe.Field())] = domain.GetValidationMessage(fe.Tag())
	}
	return &ValidationError{Fields: fields}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func validateActor(actor domain.ActorContext) error {
	if strings.TrimSpace(actor.ID) == "" {
		return NewValidationError("actor", "an acting staff member is required")
	}
	return nil
}

func checkVersion(entity string, id string, current int, expected *int) error {
	if expected != nil && *expected != current {
		return &ConflictError{Entity: entity, ID: id}
	}
	return nil
}
