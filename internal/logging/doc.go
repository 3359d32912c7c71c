// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package logging provides the process-wide zerolog logger for Tidings.
//
// Every component logs through this package so that the outbox, the broker
// router, policies, the indexer and the aggregator share one structured
// stream with consistent field names.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("event_name", "ThreadCreated").Int64("outbox_id", id).Msg("Appended")
//	logging.Ctx(ctx).Warn().Str("indexer_id", "clanker").Msg("Tick skipped")
//
// # Conventional Fields
//
//   - component: the emitting subsystem (outbox-relay, policy-runner, indexer, ...)
//   - event_name, outbox_id, message_uuid: pipeline identifiers
//   - indexer_id, user_id, workflow, counter_kind: domain identifiers
//   - correlation_id, request_id: attached by Ctx when present on the context
//
// # slog Bridge
//
// NewSlogLogger returns an *slog.Logger backed by zerolog. The supervisor
// uses it for sutureslog event hooks.
package logging
