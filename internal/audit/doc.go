// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package audit provides the asynchronous audit trail for authorization
// decisions and security events.
//
// Exactly one Event is emitted per authorization call. The Emitter buffers
// events on a bounded channel consumed by a single writer goroutine, so the
// decision path never blocks on a sink: a full buffer spills events to the
// badger-backed durable Spool (or drops them with a counter when no spool is
// configured), and spooled events are redelivered on an interval until every
// sink confirms them.
//
// # Sinks
//
// Three sinks are available, toggled independently in configuration:
//
//   - LogSink writes events to the structured log.
//   - BusSink publishes events on the event bus through a circuit breaker,
//     failing fast to the spool when the broker is down.
//   - StoreSink persists events to DuckDB; the same store serves the audit
//     query API and the retention Sweeper.
//
// Spool replay is at-least-once: downstream consumers deduplicate on the
// event ID.
//
// # Privacy
//
// When privacy mode is on, subject identifiers are SHA-256 hashed before the
// event leaves the engine, so no sink ever sees a raw subject ID.
package audit
