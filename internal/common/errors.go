// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound = errors.New("not found")

	// Validation errors.
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidRequest  = errors.New("invalid request")

	// External service errors.
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrRateLimit           = errors.New("rate limit exceeded")
	ErrMaxRetries          = errors.New("max retries exceeded")

	// Classification errors.
	ErrNoTransactions  = errors.New("no transactions to classify")
	ErrClusterTooSmall = errors.New("cluster has fewer than two transactions")

	// Configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}