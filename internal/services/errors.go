// Package services defines the business logic for users, messages and threads.
// This file centralizes the service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer. Not-found errors carry a display-ready message naming
// the missing entity.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-thread-backend/internal/auth"
)

// ErrNotFound is the umbrella for every missing-entity error. Use errors.Is
// against it when the entity does not matter.
var ErrNotFound = errors.New("not found")

// NotFoundError names the entity that was absent. Its message is meant to be
// shown to the caller as-is.
type NotFoundError struct {
	Entity  string
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// Is makes every *NotFoundError match ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Missing-entity errors.
var (
	ErrUserNotFound    error = &NotFoundError{Entity: "user", Message: "User not found."}
	ErrMessageNotFound error = &NotFoundError{Entity: "message", Message: "Message not found."}
	ErrParentNotFound  error = &NotFoundError{Entity: "parent", Message: "Parent message not found."}
)

// Credential and authorization errors.
var (
	// ErrInvalidCredentials is a password mismatch at login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrDuplicateEmail is returned when registering an email that is taken.
	ErrDuplicateEmail = errors.New("email already registered")

	// ErrTokenExpired and ErrInvalidToken alias the auth package values so
	// callers can match either.
	ErrTokenExpired = auth.ErrTokenExpired
	ErrInvalidToken = auth.ErrInvalidToken

	// ErrForbidden means the token is valid but its subject may not act on
	// the target (e.g. editing someone else's message).
	ErrForbidden = errors.New("forbidden")
)

// Input validation errors. All of them match ErrInvalidInput.
var (
	ErrInvalidInput = errors.New("invalid input")

	ErrEmptyBody    = fmt.Errorf("%w: message is empty", ErrInvalidInput)
	ErrBodyTooLong  = fmt.Errorf("%w: message too long", ErrInvalidInput)
	ErrInvalidRange = fmt.Errorf("%w: start is after end", ErrInvalidInput)
	ErrInvalidUser  = fmt.Errorf("%w: invalid user data", ErrInvalidInput)
)

// Unexpected failures. These are not user errors and are logged by handlers.
var (
	// ErrStorage wraps any store error not otherwise classified. The original
	// driver error stays reachable through errors.Is / errors.As.
	ErrStorage = errors.New("storage failure")

	// ErrHashing and ErrSigning are credential primitive failures; they point
	// at a configuration or environment defect.
	ErrHashing = errors.New("password hashing failed")
	ErrSigning = errors.New("token signing failed")
)

// classified reports whether err already belongs to the service taxonomy.
func classified(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInvalidCredentials, ErrDuplicateEmail, ErrTokenExpired,
		ErrInvalidToken, ErrForbidden, ErrInvalidInput, ErrStorage, ErrHashing, ErrSigning,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storageErr wraps an unclassified error as ErrStorage and passes service
// errors through untouched.
func storageErr(err error) error {
	if err == nil || classified(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
