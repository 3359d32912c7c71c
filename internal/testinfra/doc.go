// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package testinfra starts throwaway dependencies for integration tests.
//
// Everything here is behind the integration build tag and needs a Docker
// daemon:
//
//	go test -tags integration ./...
//
// Tests call SkipIfNoDocker first so the tagged suite still passes on
// machines without Docker.
package testinfra
