// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
Package models defines the shared record types for Claviger's grant sources.

The authorization layers consume these records through narrow provider
interfaces defined in internal/authz; internal/store produces them from
DuckDB. Keeping the types in a leaf package lets both sides agree on the
shape without importing each other.

Record Types:

  - Ownership: which subject owns a resource
  - Share: an explicit grant of one operation on one resource to a subject
    or a team, optionally time-bounded and revocable
  - TeamMembership: subject-to-team membership
  - HierarchyLink: one parent edge in the resource containment tree
  - MediaGrant: a time-bounded signed-access grant for a media resource

Vocabulary:

The resource classes (generation, project, team, media) and operations
(read, write, delete, share) are closed sets validated by
IsValidResourceType and IsValidOperation. Grantee kinds distinguish
subject shares from team shares.

Thread Safety:

All models are data structures only: immutable after creation, safe for
concurrent reads, no internal locking.

See Also:

  - internal/store: DuckDB persistence for these records
  - internal/authz: provider interfaces consuming them
*/
package models
