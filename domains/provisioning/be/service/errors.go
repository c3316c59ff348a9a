package service

import (
	"errors"
	"fmt"
)

// Errors returned by the service layer.
var (
	ErrNotFound          = errors.New("provisioning task not found")
	ErrCustomerNotFound  = errors.New("customer not found")
	ErrBackendNotFound   = errors.New("customer backend not found")
	ErrConflict          = errors.New("already claimed or not found")
	ErrActiveTaskExists  = errors.New("customer already has an active provisioning task")
	ErrInvalidState      = errors.New("task is not in a state that allows this operation")
	ErrBackendRegistered = errors.New("customer backend already registered")
)

// ValidationError reports the first offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConnectivityError means the live probe against the customer's database failed.
// Nothing was persisted.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("customer database unreachable: %v", e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// IsConflict reports errors the HTTP layer maps to 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrActiveTaskExists) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrBackendRegistered)
}

// IsNotFound reports errors the HTTP layer maps to 404.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrBackendNotFound)
}
