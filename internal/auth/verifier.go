// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/claviger-project/claviger/internal/config"
)

// Sentinel errors returned by Verify. The security layer maps these to
// reason codes; the raw error never crosses the façade.
var (
	ErrTokenInvalid    = errors.New("session token invalid")
	ErrSubjectMismatch = errors.New("session token subject mismatch")
)

// minSecretLength is the minimum HMAC secret size accepted.
const minSecretLength = 32

// SessionClaims are the claims carried by a session token: the subject in
// the registered sub claim and its rate tier.
type SessionClaims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 session tokens for the security layer. Tokens
// must carry the requesting subject in the sub claim; issuer and audience
// are enforced when configured.
type Verifier struct {
	secret      []byte
	issuer      string
	audience    string
	skew        time.Duration
	defaultTier string
}

// NewVerifier creates a session-token verifier from configuration.
func NewVerifier(cfg *config.AuthConfig) (*Verifier, error) {
	if len(cfg.JWTSecret) < minSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d characters", minSecretLength)
	}

	return &Verifier{
		secret:      []byte(cfg.JWTSecret),
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		skew:        cfg.ClockSkew,
		defaultTier: cfg.DefaultTier,
	}, nil
}

// Verify validates a session token and checks that its subject matches the
// requesting subject. It returns the claims with the tier defaulted when the
// token carries none.
func (v *Verifier) Verify(tokenString, expectSubject string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.Subject != expectSubject {
		return nil, ErrSubjectMismatch
	}
	if claims.Tier == "" {
		claims.Tier = v.defaultTier
	}
	return claims, nil
}

// Issue signs a session token for a subject. Used by tests and provisioning
// tooling; the engine itself only verifies.
func (v *Verifier) Issue(subject, tier string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		Tier: tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}
