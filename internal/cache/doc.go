// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package cache opens the shared Redis client and builds namespaced keys.
//
// Redis holds the live view counters, the counter flush locks, and the
// broker's deduplication keys. All keys are built with Key so that several
// deployments can share one Redis database under different prefixes:
//
//	cache.Key("tidings", "counter", "views") // "tidings:counter:views"
package cache
