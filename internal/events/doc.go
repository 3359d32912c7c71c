// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package events defines the closed, versioned catalogue of domain events that
flow through the outbox and the broker.

Every event name maps to exactly one payload struct. The struct's validate
tags are the payload schema: an event is only appended, published or handed
to a policy after its payload passes validation.

# Catalogue

	ThreadCreated                       v1
	CommentCreated                      v1
	ThreadUpvoted                       v1
	CommentUpvoted                      v1
	DiscordMessageCreated               v1
	ChainEventCreated                   v1
	CommunityIndexerTimerTicked         v1
	ClankerTokenFound                   v1
	UserNotificationPreferencesUpdated  v1
	ThreadViewed                        v1

# Wire Format

Events travel inside an Envelope:

	{
	  "id": "0b8f...",            // message UUID, also the dedup key
	  "outbox_id": 42,            // durable outbox row id
	  "name": "ThreadCreated",
	  "version": 1,
	  "created_at": "2026-01-01T00:00:00Z",
	  "payload": { ... }
	}

Each event name is published on its own topic, see Name.Topic.

# Usage

	evt := events.New(events.ThreadViewed, events.ThreadViewedPayload{ThreadID: 7})
	if err := events.Validate(evt); err != nil {
	    // errors.Is(err, events.ErrSchemaValidation)
	}

	payload, err := events.Decode(env.Name, env.Payload) // *events.ThreadViewedPayload
*/
package events
