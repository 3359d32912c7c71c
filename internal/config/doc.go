// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

// Package config loads Tidings configuration with Koanf v2.
//
// Sources are layered, highest priority last:
//
//  1. Built-in defaults (defaultConfig)
//  2. YAML file from CONFIG_PATH, ./config.yaml or /etc/tidings/config.yaml
//  3. Environment variables (see envMappings)
//
// Durations accept Go syntax ("15s", "10m"). Validate runs after loading and
// returns the first problem found, named by its environment variable.
//
// Minimal production environment:
//
//	DATABASE_URL=postgres://tidings:secret@db:5432/tidings
//	REDIS_ADDR=redis:6379
//	BROKER_TRANSPORT=nats
//	JWT_SECRET=$(openssl rand -base64 48)
//	NOTIFY_PROVIDER=knock
//	KNOCK_API_KEY=sk_live_...
package config
