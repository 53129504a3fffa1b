package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	erpauth "github.com/plazma-edu/erpauth-go"
)

// expiryBuffer is the margin applied when deciding whether a cached token is
// still usable, to absorb clock skew and in-flight latency.
const expiryBuffer = 60 * time.Second

// PeekClaims decodes a JWT access token without verifying its signature and
// returns the claims relevant to account display and expiry pruning. Tokens
// the backend issues as opaque strings yield (nil, false).
//
// The claims must never be used for authorization decisions; the backend is
// the verifier.
func PeekClaims(tok string) (*erpauth.TokenClaims, bool) {
	if tok == "" {
		return nil, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return nil, false
	}

	out := &erpauth.TokenClaims{}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if orgID, ok := claims["organizationId"].(string); ok {
		out.OrganizationID = orgID
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	return out, true
}

// Usable reports whether a cached token can still be presented: opaque
// tokens are always considered usable (the 401 path sorts them out), JWTs
// are usable until expiry minus a safety buffer.
func Usable(tok string) bool {
	if tok == "" {
		return false
	}
	claims, ok := PeekClaims(tok)
	if !ok || claims.ExpiresAt.IsZero() {
		return true
	}
	return time.Now().Add(expiryBuffer).Before(claims.ExpiresAt)
}
