// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

// Package eventbus carries cache invalidation fan-out and the audit event
// stream between processes.
//
// Two Bus implementations share one watermill-shaped interface:
//
//   - InProcess, a gochannel pub/sub for single-node deployments. No broker,
//     no durability; peers in the same process still observe invalidations.
//   - NATSBus, JetStream-backed via watermill-nats, for multi-node
//     deployments. An embedded NATS server (EmbeddedServer) is available so a
//     single binary can still serve multiple engine processes.
//
// The invalidation channel is the only sanctioned cross-process cache
// coherence mechanism: Publisher fans an invalidated tag out on the
// configured topic, and the Consumer drops matching entries from the local
// in-process cache tier. Messages carry the origin process ID so a process
// never re-drops entries it already invalidated itself.
package eventbus
