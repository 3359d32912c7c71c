// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package supervisor runs the long-lived workers of the pipeline under a
suture v4 supervisor tree.

The tree has three layers that restart independently:

	tidings
	├── data-layer
	│   ├── nats-embedded      (when broker.nats.embedded_server)
	│   ├── outbox-relay
	│   ├── outbox-archiver
	│   ├── counter-aggregator
	│   └── deadletter-gc
	├── messaging-layer
	│   ├── watermill-router   (policy dispatcher and dead-letter sink)
	│   └── indexer-timer
	└── api-layer
	    └── http-server

A failing relay or aggregator does not take the router down with it, and the
admin API keeps answering while the messaging layer restarts.

Supervisor events (start, failure, backoff, restart) are written through
sutureslog to the process slog logger, which is bridged to zerolog.

Services live in the services subpackage. Periodic workers share one
implementation, services.PeriodicService.
*/
package supervisor
