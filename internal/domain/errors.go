// Package domain defines the actions, resource descriptors and errors of the
// branch storage merge connector.
package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownAction is returned for an action name outside the supported set.
// It signals a configuration-integrity problem rather than a user mistake.
var ErrUnknownAction = errors.New("unknown action")

// UserError is an error the operator can fix by changing the configuration
// or the resources it points at. It is reported verbatim and exits with 1.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string { return e.Message }

func (e *UserError) Unwrap() error { return e.Err }

// ErrUser creates a UserError with a formatted message.
func ErrUser(format string, args ...interface{}) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// WrapUser creates a UserError that keeps err in the chain.
func WrapUser(err error, format string, args ...interface{}) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...), Err: err}
}

// IsUserError reports whether err carries a UserError.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
