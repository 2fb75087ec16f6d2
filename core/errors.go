package core

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is raised on malformed input, before anything is persisted.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// NotEditableError is raised when records of a closed sheet are about to be mutated.
type NotEditableError struct {
	Status string
}

func (err NotEditableError) Error() string {
	hint := "unlock required"
	if err.Status == "LOCKED" {
		hint = "permanently locked"
	}
	return fmt.Sprintf("sheet is %s: %s", strings.ToLower(err.Status), hint)
}

// TransitionError is raised when a lifecycle action is not allowed from the current status.
type TransitionError struct {
	From   string
	Action string
}

func (err TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a sheet that is %s", strings.ToLower(err.Action), strings.ToLower(err.From))
}

// IncompleteError is raised when a sheet is submitted before every active entity has a record.
type IncompleteError struct {
	Missing []string
}

func (err IncompleteError) Error() string {
	return fmt.Sprintf("%d active entities have no record yet: reopen the sheet to resync before submitting", len(err.Missing))
}

// NotFoundError hides whether the resource is missing or belongs to another tenant.
type NotFoundError struct {
	Resource string
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

// PersistenceError wraps storage failures; the whole operation was rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (err PersistenceError) Error() string {
	return err.Op + ": " + err.Err.Error()
}

func (err PersistenceError) Unwrap() error { return err.Err }

// TimeoutError is raised when a transaction outlives its deadline; nothing was written.
type TimeoutError struct {
	Op  string
	Err error
}

func (err TimeoutError) Error() string {
	return err.Op + ": transaction deadline exceeded"
}

func (err TimeoutError) Unwrap() error { return err.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotEditable(err error) bool {
	var target *NotEditableError
	return errors.As(err, &target)
}

func IsTransition(err error) bool {
	var target *TransitionError
	return errors.As(err, &target)
}

func IsIncomplete(err error) bool {
	var target *IncompleteError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}

func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsDomain reports whether err is one of the errors callers are expected to act on.
func IsDomain(err error) bool {
	return IsValidation(err) || IsNotEditable(err) || IsTransition(err) || IsIncomplete(err) || IsNotFound(err)
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	var target *shutdown
	return errors.As(err, &target)
}
