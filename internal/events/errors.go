// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package events

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/tidings/internal/validation"
)

var (
	// ErrSchemaValidation matches every *SchemaValidationError.
	ErrSchemaValidation = errors.New("event schema validation failed")

	// ErrUnknownEvent is the cause of a SchemaValidationError for a name
	// outside the catalogue.
	ErrUnknownEvent = errors.New("unknown event name")

	// ErrPayloadType is the cause of a SchemaValidationError when the payload
	// is not the struct registered for the name.
	ErrPayloadType = errors.New("payload type does not match event name")
)

// SchemaValidationError reports why a payload does not satisfy the schema of
// its event name.
type SchemaValidationError struct {
	Name   Name
	Fields []validation.FieldError
	Cause  error
}

func (e *SchemaValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event %s: schema validation failed", e.Name)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	for i, f := range e.Fields {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(f.Message)
	}
	return b.String()
}

// Is makes errors.Is(err, ErrSchemaValidation) hold.
func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidation
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Cause
}
