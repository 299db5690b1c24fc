// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

/*
grants.go - Grant Source Records

This file defines the records the authorization layers evaluate: ownership,
explicit shares, team membership, hierarchy edges, and signed media grants.

Key Structures:
  - Ownership: resource → owning subject
  - Share: one operation granted on one resource to a subject or team
  - TeamMembership: subject ∈ team
  - HierarchyLink: child resource → parent resource
  - MediaGrant: time-bounded signed access to a media resource

Lifecycle:
Shares and media grants are revoked by stamping RevokedAt, never deleted,
so audit queries can reconstruct why a past decision was made. Effectiveness
checks (IsEffective) combine the revocation stamp with the expiry.
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// Resource class constants define the closed set of protected resource types.
const (
	// ResourceGeneration is a single produced artifact.
	ResourceGeneration = "generation"

	// ResourceProject groups generations under one owner.
	ResourceProject = "project"

	// ResourceTeam is a sharing scope; membership grants nothing by itself.
	ResourceTeam = "team"

	// ResourceMedia is binary content served through signed access grants.
	ResourceMedia = "media"
)

// ValidResourceTypes contains all valid resource classes for validation.
var ValidResourceTypes = []string{ResourceGeneration, ResourceProject, ResourceTeam, ResourceMedia}

// IsValidResourceType checks if a resource class is valid.
func IsValidResourceType(resourceType string) bool {
	for _, rt := range ValidResourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// Operation constants define the closed set of protected operations.
const (
	// OperationRead retrieves a resource or its metadata.
	OperationRead = "read"

	// OperationWrite creates or mutates a resource.
	OperationWrite = "write"

	// OperationDelete removes a resource.
	OperationDelete = "delete"

	// OperationShare creates or revokes shares on a resource.
	OperationShare = "share"
)

// ValidOperations contains all valid operations for validation.
var ValidOperations = []string{OperationRead, OperationWrite, OperationDelete, OperationShare}

// IsValidOperation checks if an operation name is valid.
func IsValidOperation(operation string) bool {
	for _, op := range ValidOperations {
		if op == operation {
			return true
		}
	}
	return false
}

// Grantee kind constants distinguish who a share is granted to.
const (
	// GranteeSubject grants directly to one subject.
	GranteeSubject = "subject"

	// GranteeTeam grants to every member of a team.
	GranteeTeam = "team"
)

// Ownership records which subject owns a resource. A resource has at most
// one owner; ownership carries every operation implicitly.
type Ownership struct {
	// ResourceType is the resource class (generation, project, team, media).
	ResourceType string `json:"resource_type"`

	// ResourceID is the owned resource's identifier.
	ResourceID string `json:"resource_id"`

	// SubjectID is the owning subject.
	SubjectID string `json:"subject_id"`

	// CreatedAt is when ownership was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// Share is an explicit grant of one operation on one resource to a grantee.
// A subject holding several operations on a resource has several share rows.
//
// Key Features:
//   - GranteeKind selects direct subject shares vs team shares
//   - ExpiresAt supports time-limited shares (nil means no expiration)
//   - RevokedAt soft-revokes without deletion (audit trail survives)
type Share struct {
	// ID is the primary key (UUID for global uniqueness).
	ID uuid.UUID `json:"id"`

	// ResourceType is the resource class the share applies to.
	ResourceType string `json:"resource_type"`

	// ResourceID is the shared resource's identifier.
	ResourceID string `json:"resource_id"`

	// GranteeKind is subject or team.
	GranteeKind string `json:"grantee_kind"`

	// GranteeID is the subject or team the share is granted to.
	GranteeID string `json:"grantee_id"`

	// Operation is the single operation this share grants.
	Operation string `json:"operation"`

	// CreatedBy is the subject who created the share.
	CreatedBy string `json:"created_by,omitempty"`

	// CreatedAt is when the share was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the share lapses (nil means no expiration).
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// RevokedAt is when the share was revoked (nil means not revoked).
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired checks if the share has lapsed.
func (s *Share) IsExpired() bool {
	if s.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*s.ExpiresAt)
}

// IsRevoked checks if the share has been revoked.
func (s *Share) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsEffective checks if the share currently grants anything.
func (s *Share) IsEffective() bool {
	return !s.IsRevoked() && !s.IsExpired()
}

// TeamMembership records a subject's membership in a team. Membership alone
// grants nothing; it only makes team shares reachable.
type TeamMembership struct {
	// TeamID is the team's identifier.
	TeamID string `json:"team_id"`

	// SubjectID is the member.
	SubjectID string `json:"subject_id"`

	// AddedBy is the subject who added the member.
	AddedBy string `json:"added_by,omitempty"`

	// AddedAt is when the membership was created.
	AddedAt time.Time `json:"added_at"`
}

// HierarchyLink is one parent edge in the resource containment tree
// (e.g. generation → project). A resource has at most one parent.
type HierarchyLink struct {
	// ResourceType is the child resource's class.
	ResourceType string `json:"resource_type"`

	// ResourceID is the child resource's identifier.
	ResourceID string `json:"resource_id"`

	// ParentType is the parent resource's class.
	ParentType string `json:"parent_type"`

	// ParentID is the parent resource's identifier.
	ParentID string `json:"parent_id"`
}

// MediaGrant is a time-bounded signed-access grant for a media resource.
// Grants cover read access only; other operations on media go through
// ownership and shares.
//
// Key Features:
//   - Always expires (ExpiresAt is mandatory, unlike shares)
//   - RevokedAt soft-revokes before the natural expiry
type MediaGrant struct {
	// ID is the primary key (UUID for global uniqueness).
	ID uuid.UUID `json:"id"`

	// MediaID is the media resource's identifier.
	MediaID string `json:"media_id"`

	// SubjectID is the grantee.
	SubjectID string `json:"subject_id"`

	// IssuedAt is when the grant was signed.
	IssuedAt time.Time `json:"issued_at"`

	// ExpiresAt is when the grant lapses.
	ExpiresAt time.Time `json:"expires_at"`

	// RevokedAt is when the grant was revoked early (nil means not revoked).
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired checks if the grant has lapsed.
func (g *MediaGrant) IsExpired() bool {
	return time.Now().After(g.ExpiresAt)
}

// IsRevoked checks if the grant has been revoked.
func (g *MediaGrant) IsRevoked() bool {
	return g.RevokedAt != nil
}

// IsEffective checks if the grant currently allows access.
func (g *MediaGrant) IsEffective() bool {
	return !g.IsRevoked() && !g.IsExpired()
}
