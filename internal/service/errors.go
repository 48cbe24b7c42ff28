package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation marks input that fails the request bounds.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence marks a storage fault while reading or writing records.
	ErrPersistence = errors.New("persistence failure")
)

func validationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// RateLimitError is returned when a user exhausted the chat window.
type RateLimitError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d requests per %s", e.Limit, e.Window)
}
