package errors

import (
	"errors"
	"fmt"
)

// Common error types shared by the service packages
var (
	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnavailable    = errors.New("service unavailable")

	// General errors
	ErrInternal = errors.New("internal error")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}
