// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package auth guards the admin API with HS256 bearer tokens.
//
// Tokens are minted offline with `tidings token` and carry a subject and
// an optional scope. AUTH_MODE=none disables the check for local
// development.
package auth
