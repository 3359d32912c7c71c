// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package policy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/tomtom215/tidings/internal/events"
)

// Outcome is the settled result of one handler call.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeSkip
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkip:
		return "skip"
	case OutcomeFatal:
		return "fatal"
	default:
		return "success"
	}
}

// Result is what a handler returns alongside a nil error.
type Result struct {
	Outcome Outcome
	Reason  string
}

// Success acknowledges the message.
func Success() Result { return Result{Outcome: OutcomeSuccess} }

// Skip acknowledges the message after logging reason as a warning. It is
// used for business-rule conflicts that retrying cannot fix.
func Skip(reason string) Result { return Result{Outcome: OutcomeSkip, Reason: reason} }

// Fatal dead-letters the message without retry.
func Fatal(reason string) Result { return Result{Outcome: OutcomeFatal, Reason: reason} }

// Meta describes the message a handler is processing.
type Meta struct {
	EventID   string
	OutboxID  int64
	Name      events.Name
	Version   int
	CreatedAt time.Time
	Replay    bool
}

// HandlerFunc handles one decoded payload of type T.
type HandlerFunc[T any] func(ctx context.Context, payload *T, meta Meta) (Result, error)

type boundHandler struct {
	payloadType reflect.Type
	call        func(ctx context.Context, payload any, meta Meta) (Result, error)
}

// Policy is a named set of handlers keyed by input event.
type Policy struct {
	name     string
	handlers map[events.Name]boundHandler
	errs     []error
}

// New creates an empty policy.
func New(name string) *Policy {
	return &Policy{name: name, handlers: make(map[events.Name]boundHandler)}
}

// Name returns the policy name used in logs and metrics.
func (p *Policy) Name() string { return p.name }

// Inputs returns the event names p handles, sorted.
func (p *Policy) Inputs() []events.Name {
	names := make([]events.Name, 0, len(p.handlers))
	for n := range p.handlers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// On registers fn for name. Registration errors are reported by
// NewRegistry.
func On[T any](p *Policy, name events.Name, fn HandlerFunc[T]) *Policy {
	if _, dup := p.handlers[name]; dup {
		p.errs = append(p.errs, fmt.Errorf("policy %s: duplicate handler for %s", p.name, name))
		return p
	}
	if fn == nil {
		p.errs = append(p.errs, fmt.Errorf("policy %s: nil handler for %s", p.name, name))
		return p
	}
	p.handlers[name] = boundHandler{
		payloadType: reflect.TypeOf((*T)(nil)),
		call: func(ctx context.Context, payload any, meta Meta) (Result, error) {
			typed, ok := payload.(*T)
			if !ok {
				return Fatal(fmt.Sprintf("payload is %T, want %T", payload, typed)), nil
			}
			return fn(ctx, typed, meta)
		},
	}
	return p
}

// ErrInvalidPolicy wraps every registry validation failure.
var ErrInvalidPolicy = errors.New("invalid policy registration")

// Registry indexes policies by input event.
type Registry struct {
	policies []*Policy
	byEvent  map[events.Name][]*Policy
}

// NewRegistry validates policies and builds the dispatch index. Policies
// must have unique non-empty names, at least one handler, and handlers
// whose payload type matches the catalogue.
func NewRegistry(policies ...*Policy) (*Registry, error) {
	r := &Registry{byEvent: make(map[events.Name][]*Policy)}
	seen := make(map[string]bool)
	var errs []error

	for _, p := range policies {
		if p == nil {
			errs = append(errs, errors.New("nil policy"))
			continue
		}
		errs = append(errs, p.errs...)
		if p.name == "" {
			errs = append(errs, errors.New("policy with empty name"))
		}
		if seen[p.name] {
			errs = append(errs, fmt.Errorf("duplicate policy name %q", p.name))
		}
		seen[p.name] = true
		if len(p.handlers) == 0 {
			errs = append(errs, fmt.Errorf("policy %s has no handlers", p.name))
		}

		for _, name := range p.Inputs() {
			want, ok := events.PayloadType(name)
			if !ok {
				errs = append(errs, fmt.Errorf("policy %s: unknown event %s", p.name, name))
				continue
			}
			if got := p.handlers[name].payloadType; got != want {
				errs = append(errs, fmt.Errorf("policy %s: handler for %s takes %s, want %s", p.name, name, got, want))
				continue
			}
			r.byEvent[name] = append(r.byEvent[name], p)
		}
		r.policies = append(r.policies, p)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return r, nil
}

// Events returns every event name with at least one policy.
func (r *Registry) Events() []events.Name {
	names := make([]events.Name, 0, len(r.byEvent))
	for n := range r.byEvent {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Policies returns the policies registered for name in registration order.
func (r *Registry) Policies(name events.Name) []*Policy {
	return r.byEvent[name]
}
