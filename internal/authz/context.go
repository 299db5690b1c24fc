// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"time"
)

// AuthorizationContext carries everything one authorization call needs.
// Construct it once per request and treat it as immutable: it is owned by
// the call that created it and is never persisted.
//
// Request and correlation identifiers travel on the context.Context, not
// here, so they flow through provider calls and into the audit event without
// widening every signature.
type AuthorizationContext struct {
	// SubjectID is the already-authenticated subject requesting access.
	SubjectID string `validate:"required,max=256"`

	// ResourceType is the resource class.
	ResourceType string `validate:"required,oneof=generation project team media"`

	// ResourceID identifies the resource within its class.
	ResourceID string `validate:"required,max=256"`

	// Operation is what the subject wants to do.
	Operation string `validate:"required,oneof=read write delete share"`

	// SessionToken is the optional session token presented with the
	// request. When present the security layer verifies it against the
	// subject.
	SessionToken string `validate:"omitempty,max=4096"`

	// ClientIP is the caller's address as seen by the transport.
	ClientIP string `validate:"omitempty,ip"`

	// UserAgent is the caller's self-reported agent string.
	UserAgent string `validate:"omitempty,max=1024"`

	// RequestTime is when the request arrived. Zero means "now".
	RequestTime time.Time
}

type contextKey int

const (
	requestIDKey contextKey = iota
	correlationIDKey
)

// WithRequestID attaches a request identifier to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request identifier, empty when absent.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithCorrelationID attaches a correlation identifier to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFrom returns the correlation identifier, empty when absent.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}
