// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package broker

import (
	"errors"

	"github.com/tomtom215/tidings/internal/events"
)

var (
	// ErrPublisherClosed is returned when publishing on a closed publisher.
	ErrPublisherClosed = errors.New("publisher is closed")

	// ErrUnknownTransport is returned for a transport name other than
	// nats, amqp or memory.
	ErrUnknownTransport = errors.New("unknown broker transport")

	// ErrInFlight is returned by the deduplicator when another delivery of
	// the same message is still being handled. The message is nacked and
	// redelivered later.
	ErrInFlight = errors.New("message is already being processed")
)

// ErrorCategory classifies handler errors for dead-letter metadata.
type ErrorCategory int

const (
	// ErrorCategoryUnknown is the default for unclassified errors.
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryTransient covers timeouts, unavailable dependencies and
	// HTTP 429/5xx responses.
	ErrorCategoryTransient
	// ErrorCategoryValidation covers malformed payloads and programmer errors.
	ErrorCategoryValidation
)

// String returns the label used in metadata and metrics.
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryTransient:
		return "transient"
	case ErrorCategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// RetryableError marks an error as transient. Plain errors are retried as
// well; the wrapper only adds a category for logs and dead-letter metadata.
type RetryableError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewRetryableError creates a transient error.
func NewRetryableError(message string, cause error) *RetryableError {
	return &RetryableError{Message: message, Cause: cause, Category: ErrorCategoryTransient}
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// PermanentError is never retried. The router dead-letters it on first
// failure.
type PermanentError struct {
	Message  string
	Cause    error
	Category ErrorCategory
}

// NewPermanentError creates a non-retryable validation error.
func NewPermanentError(message string, cause error) *PermanentError {
	return &PermanentError{Message: message, Cause: cause, Category: ErrorCategoryValidation}
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err was explicitly marked transient.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// IsPermanent reports whether err must skip retries. Schema validation
// failures are always permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe) || errors.Is(err, events.ErrSchemaValidation)
}

// Categorize returns the category carried by err, if any.
func Categorize(err error) ErrorCategory {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Category
	}
	if errors.Is(err, events.ErrSchemaValidation) {
		return ErrorCategoryValidation
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return re.Category
	}
	return ErrorCategoryUnknown
}
