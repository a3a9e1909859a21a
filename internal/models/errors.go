package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidID            = errors.New("invalid id")
	ErrValidation           = errors.New("validation error")
	ErrConflict             = errors.New("conflict")
	ErrInvalidTransition    = errors.New("invalid session transition")
	ErrForbidden            = errors.New("forbidden")
	ErrConfirmationRequired = errors.New("confirmation required")
)

// ConflictError is returned when a session was claimed by another staff member first.
type ConflictError struct {
	AssignedStaffID string
}

func (e *ConflictError) Error() string {
	if e.AssignedStaffID == "" {
		return "session already taken by another staff member"
	}
	return fmt.Sprintf("session already taken by staff %s", e.AssignedStaffID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// AssigneeOf extracts the current assignee from a conflict, if any.
func AssigneeOf(err error) (string, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.AssignedStaffID, true
	}
	return "", false
}
