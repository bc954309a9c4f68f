package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrAuthorization   = errors.New("authorization error")
	ErrConflict        = errors.New("conflict")
	ErrNotFound        = errors.New("not found")
	ErrStorage         = errors.New("storage error")
	ErrRender          = errors.New("render error")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

// NewError builds a typed error from a formatted message.
func NewError(kind error, operation, format string, args ...any) error {
	return WrapError(kind, operation, fmt.Errorf(format, args...))
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsRetryable reports whether the caller may retry the failed call as-is.
func IsRetryable(err error) bool {
	return IsKind(err, ErrStorage) || IsKind(err, ErrRender)
}

// KindOf returns the first matching error kind, or nil for untyped errors.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrAuthorization,
		ErrConflict,
		ErrNotFound,
		ErrStorage,
		ErrRender,
		ErrUnauthenticated,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// TurnError is returned when a signer acts out of turn. It names the
// signer whose turn it currently is.
type TurnError struct {
	RequestID     string
	AttemptedBy   string
	CurrentSigner string
	CurrentOrder  int
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("signer %q may not sign request %s now: it is %q's turn (order %d)",
		e.AttemptedBy, e.RequestID, e.CurrentSigner, e.CurrentOrder)
}

func (e *TurnError) Unwrap() error { return ErrAuthorization }

// DuplicateError is returned when an upload collides with a completed document.
type DuplicateError struct {
	Hash                string
	ConflictingDocument string
	ConflictingStatus   DocumentStatus
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("document with hash %s duplicates document %s (status %s)",
		e.Hash, e.ConflictingDocument, e.ConflictingStatus)
}

func (e *DuplicateError) Unwrap() error { return ErrConflict }
