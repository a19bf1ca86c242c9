// Package errors provides eden's error taxonomy and wrapping helpers.
// kind.go defines the Kind enum and EdenError type (spec §7); this file
// holds the thin convenience wrappers around the standard errors package,
// mirroring the split the teacher project keeps between its errors.go and
// error_types.go.
package errors

import (
	"errors"
	"fmt"
)

// Unwrap unwraps an error to find the underlying cause.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with a message, preserving the chain for Is/As/KindOf.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// New creates a new untyped error.
func New(message string) error {
	return errors.New(message)
}
