package stack

import (
	"errors"
	"fmt"
)

// StackFetchError is returned when an API call about a single stack fails.
type StackFetchError struct {
	// StackID is the stack that could not be read.
	StackID string

	// StackName is the human-readable stack name.
	StackName string

	// Op is the failing API operation.
	Op string

	// Err is the underlying API error.
	Err error
}

// Error implements the error interface.
func (e *StackFetchError) Error() string {
	return fmt.Sprintf("stack %q: %s: %v", e.StackName, e.Op, e.Err)
}

// Unwrap returns the underlying API error.
func (e *StackFetchError) Unwrap() error { return e.Err }

// TemplateError is returned when a stack template is missing or cannot be
// parsed.
type TemplateError struct {
	// StackID is the stack whose template is unusable.
	StackID string

	// StackName is the human-readable stack name.
	StackName string

	// Err describes what is wrong with the template.
	Err error
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("stack %q: template: %v", e.StackName, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *TemplateError) Unwrap() error { return e.Err }

// IsStackScoped reports whether err only affects a single stack, in which
// case the rest of the account can still be scanned.
func IsStackScoped(err error) bool {
	var fe *StackFetchError
	var te *TemplateError
	return errors.As(err, &fe) || errors.As(err, &te)
}
