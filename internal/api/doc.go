// Tidings - Event Notification and Outbox Delivery Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tidings

/*
Package api is the admin and emit HTTP surface of Tidings, routed with chi.

Routes:

	GET  /healthz                            dependency checks, unauthenticated
	GET  /metrics                            Prometheus exposition, unauthenticated
	POST /api/v1/events                      validate and append a batch to the outbox
	POST /api/v1/threads/{id}/views          add to the view_count delta
	POST /api/v1/outbox/replay               republish an outbox id range
	GET  /api/v1/deadletters                 list archived dead letters
	POST /api/v1/deadletters/{id}/replay     republish one dead letter

Everything under /api/v1 requires a bearer token (see package auth) and is
rate limited per client IP with httprate.

Responses use one envelope:

	{"success": true, "data": ..., "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "VALIDATION_FAILED", "message": "...", "details": ...}}
*/
package api
