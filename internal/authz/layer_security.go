// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package authz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/claviger-project/claviger/internal/auth"
	"github.com/claviger-project/claviger/internal/models"
)

// probeAgents are substrings of user-agent strings from common scanning
// tools. Matching is case-insensitive.
var probeAgents = []string{
	"sqlmap",
	"nikto",
	"masscan",
	"nmap",
	"dirbuster",
	"gobuster",
	"wpscan",
}

// securityLayer runs the contextual guards: session-token validity and
// subject consistency, origin blocklist, and user-agent sanity. It never
// grants.
type securityLayer struct {
	verifier  *auth.Verifier
	blocklist []*net.IPNet
}

// NewSecurityLayer builds the contextual guard. cidrs is the egress
// blocklist; a malformed entry fails construction rather than silently
// narrowing the guard.
func NewSecurityLayer(verifier *auth.Verifier, cidrs []string) (Layer, error) {
	blocklist := make([]*net.IPNet, 0, len(cidrs))
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(raw)
		if err != nil {
			return nil, fmt.Errorf("parse blocklist entry %q: %w", raw, err)
		}
		blocklist = append(blocklist, ipnet)
	}
	return &securityLayer{verifier: verifier, blocklist: blocklist}, nil
}

func (l *securityLayer) Name() string    { return models.LayerSecurity }
func (l *securityLayer) Kind() LayerKind { return KindGuard }

func (l *securityLayer) Evaluate(_ context.Context, actx *AuthorizationContext) Verdict {
	if actx.SessionToken != "" && l.verifier != nil {
		if _, err := l.verifier.Verify(actx.SessionToken, actx.SubjectID); err != nil {
			if errors.Is(err, auth.ErrSubjectMismatch) {
				return Denied(models.ReasonSessionMismatch)
			}
			return Denied(models.ReasonSessionInvalid)
		}
	}

	if actx.ClientIP != "" {
		ip := net.ParseIP(actx.ClientIP)
		if ip != nil {
			for _, ipnet := range l.blocklist {
				if ipnet.Contains(ip) {
					return Denied(models.ReasonOriginBlocked)
				}
			}
		}
	}

	if anomalousUserAgent(actx.UserAgent) {
		return Denied(models.ReasonUserAgentAnomaly)
	}
	return Abstain()
}

// anomalousUserAgent flags agent strings carrying control bytes or known
// scanner signatures. An absent agent is fine; many legitimate API clients
// send none.
func anomalousUserAgent(ua string) bool {
	if ua == "" {
		return false
	}
	for i := 0; i < len(ua); i++ {
		if ua[i] < 0x20 || ua[i] == 0x7f {
			return true
		}
	}
	lower := strings.ToLower(ua)
	for _, probe := range probeAgents {
		if strings.Contains(lower, probe) {
			return true
		}
	}
	return false
}
