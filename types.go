package erpauth

import "time"

// Origin identifies which code path produced a token change. The session
// store filters out changes it broadcast itself (OriginStore) to avoid
// feedback loops, so every writer must tag its writes honestly.
type Origin string

const (
	// OriginStore marks changes broadcast by the session store itself.
	OriginStore Origin = "store"

	// OriginAPI marks tokens adopted from a sign-in or API response.
	OriginAPI Origin = "api"

	// OriginRefresh marks tokens obtained (or cleared) by the refresh protocol.
	OriginRefresh Origin = "refresh"

	// OriginClear marks a full token wipe.
	OriginClear Origin = "clear"

	// OriginRestore marks tokens restored from durable storage at startup.
	OriginRestore Origin = "restore"
)

// TokenChange is delivered to token store subscribers on every emitted
// change. UserID is empty for legacy-slot changes.
type TokenChange struct {
	UserID string
	Token  string
	Origin Origin
}

// Session is the full client-side record of who is signed in, to which
// organization, and with what token. An empty AccessToken means
// unauthenticated. The session store replaces the value wholesale on every
// transition; consumers must never mutate a snapshot.
type Session struct {
	AccessToken      string `json:"accessToken"`
	UserID           string `json:"userId"`
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
	LoginID          string `json:"loginId"`
}

// Authenticated reports whether the session carries a token.
func (s Session) Authenticated() bool { return s.AccessToken != "" }

// SessionPatch is a partial session update. Nil fields are left unchanged.
type SessionPatch struct {
	AccessToken      *string
	UserID           *string
	OrganizationID   *string
	OrganizationName *string
	LoginID          *string
}

// Apply merges the patch into a copy of s and returns it.
func (p SessionPatch) Apply(s Session) Session {
	if p.AccessToken != nil {
		s.AccessToken = *p.AccessToken
	}
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
	if p.OrganizationID != nil {
		s.OrganizationID = *p.OrganizationID
	}
	if p.OrganizationName != nil {
		s.OrganizationName = *p.OrganizationName
	}
	if p.LoginID != nil {
		s.LoginID = *p.LoginID
	}
	return s
}

// HistoryEntry is a remembered previously-authenticated account, kept so a
// user can switch back without re-entering credentials while a cached token
// still exists.
type HistoryEntry struct {
	UserID           string    `json:"userId"`
	DisplayName      string    `json:"displayName"`
	OrganizationName string    `json:"organizationName"`
	LastUsedAt       time.Time `json:"lastUsedAt"`
}

// SignInRequest carries the credentials for the ERP sign-in endpoint.
type SignInRequest struct {
	// ID is the login ID the user types, unique within an institution.
	ID            string `json:"id"`
	Password      string `json:"password"`
	InstitutionID string `json:"gigwanNanoId"`
}

// SignInResult is the sign-in endpoint's success payload.
type SignInResult struct {
	AccessToken      string `json:"accessToken" validate:"required"`
	UserID           string `json:"userId" validate:"required"`
	OrganizationID   string `json:"organizationId"`
	OrganizationName string `json:"organizationName"`
}

// RefreshResult is the refresh endpoint's success payload.
type RefreshResult struct {
	AccessToken string `json:"accessToken" validate:"required"`
}

// TokenClaims are the claims peeked (without signature verification) from a
// JWT access token. Opaque tokens have no claims.
type TokenClaims struct {
	Subject        string
	OrganizationID string
	ExpiresAt      time.Time
	IssuedAt       time.Time
}
