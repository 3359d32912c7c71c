// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package notify

import (
	"github.com/tomtom215/tidings/internal/validation"
)

// Workflow identifies a scheduled email workflow in the provider.
type Workflow string

const (
	WeeklyRecap Workflow = "weekly-recap"
	DailyDigest Workflow = "daily-digest"
)

// Frequency values accepted by the provider.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Repeat is one recurrence rule of a schedule. Times are UTC.
type Repeat struct {
	Frequency string   `json:"frequency" validate:"required,oneof=daily weekly"`
	Days      []string `json:"days,omitempty" validate:"omitempty,dive,oneof=mon tue wed thu fri sat sun"`
	Hours     int      `json:"hours" validate:"gte=0,lte=23"`
	Minutes   int      `json:"minutes" validate:"gte=0,lte=59"`
}

var recurrence = map[Workflow][]Repeat{
	WeeklyRecap: {{Frequency: FrequencyWeekly, Days: []string{"mon"}, Hours: 9}},
	DailyDigest: {{Frequency: FrequencyDaily, Days: []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}, Hours: 9}},
}

// Workflows returns every managed workflow in a fixed order.
func Workflows() []Workflow {
	return []Workflow{WeeklyRecap, DailyDigest}
}

// Valid reports whether w is a managed workflow.
func (w Workflow) Valid() bool {
	_, ok := recurrence[w]
	return ok
}

// Recurrence returns the schedule w is created with.
func (w Workflow) Recurrence() []Repeat {
	rules := recurrence[w]
	out := make([]Repeat, len(rules))
	copy(out, rules)
	return out
}

func init() {
	validation.RegisterValidation("workflow_kind", func(v string) bool {
		return Workflow(v).Valid()
	})
}

// Preferences is the desired state for one user.
type Preferences struct {
	EmailEnabled bool
	Recap        bool
	Digest       bool
}

// Wants reports whether the user should have a schedule for w.
func (p Preferences) Wants(w Workflow) bool {
	if !p.EmailEnabled {
		return false
	}
	switch w {
	case WeeklyRecap:
		return p.Recap
	case DailyDigest:
		return p.Digest
	default:
		return false
	}
}
