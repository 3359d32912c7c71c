// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package events

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tidings/internal/validation"
)

// Validate checks that e names a catalogued event and that its payload is
// the registered struct and satisfies its validate tags.
func Validate(e Event) error {
	ent, ok := catalogue[e.Name]
	if !ok {
		return &SchemaValidationError{Name: e.Name, Cause: ErrUnknownEvent}
	}

	want := reflect.TypeOf(ent.newPayload())
	v := reflect.ValueOf(e.Payload)
	switch {
	case !v.IsValid():
		return &SchemaValidationError{Name: e.Name, Cause: fmt.Errorf("%w: nil payload", ErrPayloadType)}
	case v.Type() == want:
		if v.IsNil() {
			return &SchemaValidationError{Name: e.Name, Cause: fmt.Errorf("%w: nil payload", ErrPayloadType)}
		}
	case v.Type() != want.Elem():
		return &SchemaValidationError{
			Name:  e.Name,
			Cause: fmt.Errorf("%w: got %s, want %s", ErrPayloadType, v.Type(), want.Elem()),
		}
	}

	return checkStruct(e.Name, e.Payload)
}

func checkStruct(name Name, payload any) error {
	err := validation.ValidateStruct(payload)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		return &SchemaValidationError{Name: name, Fields: verr.Fields}
	}
	return &SchemaValidationError{Name: name, Cause: err}
}

// Encode validates e and returns its JSON payload.
func Encode(e Event) ([]byte, error) {
	if err := Validate(e); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Name, err)
	}
	return data, nil
}

// Decode parses raw into the payload struct registered for name and
// validates it. The result is a pointer, e.g. *ThreadViewedPayload.
func Decode(name Name, raw []byte) (any, error) {
	ent, ok := catalogue[name]
	if !ok {
		return nil, &SchemaValidationError{Name: name, Cause: ErrUnknownEvent}
	}
	p := ent.newPayload()
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &SchemaValidationError{Name: name, Cause: fmt.Errorf("decode payload: %w", err)}
	}
	if err := checkStruct(name, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Envelope is the broker message body.
type Envelope struct {
	ID        string          `json:"id"`
	OutboxID  int64           `json:"outbox_id,omitempty"`
	Name      Name            `json:"name"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", e.ID, err)
	}
	return data, nil
}

// UnmarshalEnvelope parses a broker message body. It does not validate the
// payload; Decode does that against the envelope's name.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &SchemaValidationError{Cause: fmt.Errorf("decode envelope: %w", err)}
	}
	if env.Name == "" || len(env.Payload) == 0 {
		return nil, &SchemaValidationError{Name: env.Name, Cause: errors.New("envelope missing name or payload")}
	}
	return &env, nil
}
