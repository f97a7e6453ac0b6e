// Package token verifies the signed, time-limited attendance links handed to
// students when a session opens. Signing lives here too so that the issuing
// service and the verifier agree on one claim layout.
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KindAttendance is the only kind accepted by Verify.
const KindAttendance = "attendance"

// MaxTTL bounds expiry - issuance for any attendance token.
const MaxTTL = 2 * time.Hour

var (
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenTypeMismatch = errors.New("token type mismatch")
)

// Claims is the JWT payload of an attendance token. The registered subject
// carries the student reference.
type Claims struct {
	Kind       string `json:"kind"`
	SessionRef string `json:"sid"`
	jwt.RegisteredClaims
}

// Grant is what a verified token entitles its bearer to.
type Grant struct {
	StudentRef string
	SessionRef string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Verifier checks attendance tokens signed with HS256.
type Verifier struct {
	key      []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewVerifier creates a verifier. Empty issuer or audience disables that check.
func NewVerifier(key, issuer, audience string) *Verifier {
	return &Verifier{
		key:      []byte(key),
		issuer:   issuer,
		audience: audience,
		// time-based claims are checked against the caller's clock in Verify
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Verify checks signature, kind, audience and expiry, in that order. It does
// not consult storage; presenting the same token twice yields the same Grant.
func (v *Verifier) Verify(raw string, now time.Time) (Grant, error) {
	if raw == "" {
		return Grant{}, ErrTokenInvalid
	}
	var claims Claims
	parsed, err := v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil || !parsed.Valid {
		return Grant{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.Kind != KindAttendance {
		return Grant{}, fmt.Errorf("%w: kind %q", ErrTokenTypeMismatch, claims.Kind)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return Grant{}, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}
	if v.audience != "" && !slices.Contains(claims.Audience, v.audience) {
		return Grant{}, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	if claims.Subject == "" || claims.SessionRef == "" {
		return Grant{}, fmt.Errorf("%w: missing student or session", ErrTokenInvalid)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Grant{}, fmt.Errorf("%w: missing iat or exp", ErrTokenInvalid)
	}
	iat, exp := claims.IssuedAt.UTC(), claims.ExpiresAt.UTC()
	if exp.Before(iat) || exp.Sub(iat) > MaxTTL {
		return Grant{}, fmt.Errorf("%w: lifetime exceeds %s", ErrTokenInvalid, MaxTTL)
	}

	if now.After(exp) {
		return Grant{}, ErrTokenExpired
	}

	return Grant{
		StudentRef: claims.Subject,
		SessionRef: claims.SessionRef,
		IssuedAt:   iat,
		ExpiresAt:  exp,
	}, nil
}

// Signer issues attendance tokens. It is used by the collaborator that opens
// sessions and mails links; the attendance core only verifies.
type Signer struct {
	key      []byte
	issuer   string
	audience string
	ttl      time.Duration
}

// NewSigner creates a signer. ttl is clamped to MaxTTL.
func NewSigner(key, issuer, audience string, ttl time.Duration) *Signer {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Signer{key: []byte(key), issuer: issuer, audience: audience, ttl: ttl}
}

// Issue signs an attendance token binding studentRef to sessionRef.
func (s *Signer) Issue(studentRef, sessionRef string, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.ttl).Truncate(time.Second)
	raw, err := s.Sign(Claims{
		Kind:       KindAttendance,
		SessionRef: sessionRef,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   studentRef,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	return raw, exp, err
}

// Sign fills issuer and audience when unset and signs claims as-is.
func (s *Signer) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	if len(claims.Audience) == 0 && s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}
