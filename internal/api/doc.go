// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package api exposes the authorization engine over HTTP.

The surface is deliberately thin: one decision endpoint, an audit query
endpoint, and an admin group for cache invalidation and suspension
management. Everything interesting happens in the engine; handlers only
translate between HTTP and the engine's types.

Routes:

	POST   /api/v1/authorize              evaluate one authorization request
	GET    /api/v1/decisions              query recorded audit events
	POST   /api/v1/invalidate             invalidate cached decisions by tag (admin)
	GET    /api/v1/suspensions            list active suspensions (admin)
	DELETE /api/v1/suspensions/{subject}  lift a suspension (admin)
	GET    /healthz                       liveness probe
	GET    /readyz                        readiness probe
	GET    /metrics                       Prometheus exposition

Admin routes require a bearer token whose bcrypt hash matches
ADMIN_TOKEN_HASH. An empty hash removes the admin surface entirely.

The decision endpoint always answers 200 with a decision envelope: denial
is a valid answer, not an HTTP error. A Retry-After header accompanies
rate-limit denials so well-behaved clients can back off.
*/
package api
