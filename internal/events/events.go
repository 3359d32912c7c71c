// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

package events

import (
	"reflect"
	"sort"

	"github.com/tomtom215/tidings/internal/validation"
)

// Name identifies an event in the catalogue.
type Name string

// Event names.
const (
	ThreadCreated                      Name = "ThreadCreated"
	CommentCreated                     Name = "CommentCreated"
	ThreadUpvoted                      Name = "ThreadUpvoted"
	CommentUpvoted                     Name = "CommentUpvoted"
	DiscordMessageCreated              Name = "DiscordMessageCreated"
	ChainEventCreated                  Name = "ChainEventCreated"
	CommunityIndexerTimerTicked        Name = "CommunityIndexerTimerTicked"
	ClankerTokenFound                  Name = "ClankerTokenFound"
	UserNotificationPreferencesUpdated Name = "UserNotificationPreferencesUpdated"
	ThreadViewed                       Name = "ThreadViewed"
)

// TopicPrefix prefixes every event topic. Subjects under it are captured by
// the JetStream stream.
const TopicPrefix = "tidings.events."

type entry struct {
	version    int
	newPayload func() any
}

var catalogue = map[Name]entry{
	ThreadCreated:                      {1, func() any { return new(ThreadCreatedPayload) }},
	CommentCreated:                     {1, func() any { return new(CommentCreatedPayload) }},
	ThreadUpvoted:                      {1, func() any { return new(ThreadUpvotedPayload) }},
	CommentUpvoted:                     {1, func() any { return new(CommentUpvotedPayload) }},
	DiscordMessageCreated:              {1, func() any { return new(DiscordMessageCreatedPayload) }},
	ChainEventCreated:                  {1, func() any { return new(ChainEventCreatedPayload) }},
	CommunityIndexerTimerTicked:        {1, func() any { return new(CommunityIndexerTimerTickedPayload) }},
	ClankerTokenFound:                  {1, func() any { return new(ClankerTokenFoundPayload) }},
	UserNotificationPreferencesUpdated: {1, func() any { return new(UserNotificationPreferencesUpdatedPayload) }},
	ThreadViewed:                       {1, func() any { return new(ThreadViewedPayload) }},
}

func init() {
	validation.RegisterValidation("event_name", func(v string) bool {
		return Name(v).Valid()
	})
}

// Valid reports whether n is in the catalogue.
func (n Name) Valid() bool {
	_, ok := catalogue[n]
	return ok
}

// Version returns the schema version of n, or 0 if n is unknown.
func (n Name) Version() int {
	return catalogue[n].version
}

// Topic returns the broker topic events named n are published on.
func (n Name) Topic() string {
	return TopicPrefix + string(n)
}

func (n Name) String() string { return string(n) }

// Names returns every catalogued name in sorted order.
func Names() []Name {
	names := make([]Name, 0, len(catalogue))
	for n := range catalogue {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// PayloadType returns the pointer type Decode produces for n.
func PayloadType(n Name) (reflect.Type, bool) {
	e, ok := catalogue[n]
	if !ok {
		return nil, false
	}
	return reflect.TypeOf(e.newPayload()), true
}

// Event is what producers emit: a catalogued name and its payload, either a
// payload struct value or a pointer to one.
type Event struct {
	Name    Name
	Payload any
}

// New builds an Event.
func New(name Name, payload any) Event {
	return Event{Name: name, Payload: payload}
}
