package errors

import (
	"errors"
	"fmt"
)

// Common error values for the back-office client
var (
	// Session errors
	ErrNoStoredCredentials  = errors.New("no stored credentials")
	ErrInvalidResponseShape = errors.New("invalid response shape")
	ErrMissingUserOrToken   = errors.New("missing user or token")
	ErrEmptyCredentials     = errors.New("username and password are required")
	ErrTooManyRequests      = errors.New("too many requests")
	ErrLoginFailed          = errors.New("login failed")

	// Refresh errors
	ErrNoRefreshToken         = errors.New("no refresh token or user data")
	ErrInvalidRefreshResponse = errors.New("invalid refresh response")
	ErrUnauthorized           = errors.New("unauthorized")

	// General errors
	ErrInvalidRequest = errors.New("invalid request")
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

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error that wraps the given errors, nil when all are nil
func Join(errs ...error) error {
	return errors.Join(errs...)
}
