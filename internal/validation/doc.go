// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package validation wraps go-playground/validator v10 behind a shared
// singleton. Event payload schemas, configuration sections and admin API
// requests are all plain structs with `validate` tags checked here.
//
// Custom tags:
//   - hexaddr: 0x-prefixed 20-byte hex address (token contracts)
//   - event_name: registered by package events
//   - workflow_kind: registered by package notify
//
// Field names in errors follow the `json` tag so that messages match the
// payload a producer sent.
package validation
