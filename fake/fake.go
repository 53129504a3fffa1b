// Package fake provides an in-memory ERP account store and a mock auth
// backend for testing, so consumers can exercise the full sign-in, refresh,
// and account-switch flows without a real backend.
//
// Use fake.NewAccountStore as a drop-in erpauth.AuthAPI, or fake.NewServer
// for tests that need a real HTTP boundary (the intercepting transport).
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	erpauth "github.com/plazma-edu/erpauth-go"
)

// Account is one fake ERP staff account.
type Account struct {
	LoginID          string
	Password         string
	InstitutionID    string
	UserID           string // defaults to LoginID
	OrganizationName string
}

// AccountStore is an in-memory erpauth.AuthAPI. Tokens it mints have the
// shape "{institution}-{login}-token" unless JWT signing is configured.
type AccountStore struct {
	mu         sync.Mutex
	accounts   map[string]Account // loginID@institutionID → account
	byUserID   map[string]Account
	valid      map[string]string // token → userID
	refreshSeq int

	nextRefreshToken string
	refreshErr       error
	jwtSecret        []byte
}

// compile-time check
var _ erpauth.AuthAPI = (*AccountStore)(nil)

// Option configures the AccountStore.
type Option func(*AccountStore)

// WithAccount adds a fake account. An empty UserID defaults to LoginID.
func WithAccount(a Account) Option {
	return func(s *AccountStore) {
		if a.UserID == "" {
			a.UserID = a.LoginID
		}
		s.accounts[accountKey(a.LoginID, a.InstitutionID)] = a
		s.byUserID[a.UserID] = a
	}
}

// WithJWTSecret switches minted tokens from opaque strings to HS256-signed
// JWTs carrying sub, organizationId, and a one hour expiry.
func WithJWTSecret(secret []byte) Option {
	return func(s *AccountStore) { s.jwtSecret = secret }
}

// NewAccountStore creates an account store with the given fixtures.
func NewAccountStore(opts ...Option) *AccountStore {
	s := &AccountStore{
		accounts: make(map[string]Account),
		byUserID: make(map[string]Account),
		valid:    make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SignIn validates credentials against the fixtures and mints a token.
func (s *AccountStore) SignIn(_ context.Context, req erpauth.SignInRequest) (*erpauth.SignInResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountKey(req.ID, req.InstitutionID)]
	if !ok || a.Password != req.Password {
		return nil, fmt.Errorf("erpauth/fake: invalid credentials")
	}

	tok, err := s.mintLocked(a)
	if err != nil {
		return nil, err
	}

	return &erpauth.SignInResult{
		AccessToken:      tok,
		UserID:           a.UserID,
		OrganizationID:   a.InstitutionID,
		OrganizationName: a.OrganizationName,
	}, nil
}

// Refresh mints a fresh token for userID. The minted token is the one set
// via SetNextRefreshToken when present, otherwise a sequenced opaque token.
func (s *AccountStore) Refresh(_ context.Context, userID string) (*erpauth.RefreshResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshErr != nil {
		return nil, s.refreshErr
	}

	a, ok := s.byUserID[userID]
	if !ok {
		return nil, fmt.Errorf("erpauth/fake: unknown user %q", userID)
	}

	tok := s.nextRefreshToken
	if tok == "" {
		s.refreshSeq++
		tok = fmt.Sprintf("%s-%s-refresh-%d", a.InstitutionID, a.LoginID, s.refreshSeq)
	}
	s.valid[tok] = a.UserID

	return &erpauth.RefreshResult{AccessToken: tok}, nil
}

// SetNextRefreshToken pins the token the next Refresh calls return.
func (s *AccountStore) SetNextRefreshToken(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRefreshToken = tok
}

// SetRefreshError makes Refresh fail with err until reset with nil.
func (s *AccountStore) SetRefreshError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshErr = err
}

// Invalidate revokes a minted token so bearer checks against it fail.
func (s *AccountStore) Invalidate(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.valid, tok)
}

// TokenValid reports whether tok was minted and not invalidated, and the
// user it belongs to.
func (s *AccountStore) TokenValid(tok string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.valid[tok]
	return userID, ok
}

func (s *AccountStore) mintLocked(a Account) (string, error) {
	if s.jwtSecret == nil {
		tok := fmt.Sprintf("%s-%s-token", a.InstitutionID, a.LoginID)
		s.valid[tok] = a.UserID
		return tok, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":            a.UserID,
		"organizationId": a.InstitutionID,
		"iat":            now.Unix(),
		"exp":            now.Add(1 * time.Hour).Unix(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("erpauth/fake: failed to sign token: %w", err)
	}
	s.valid[tok] = a.UserID
	return tok, nil
}

func accountKey(loginID, institutionID string) string {
	return loginID + "@" + institutionID
}
