// Package erpauth is the client-side authentication core for the Plazma
// school-ERP: token caching with multi-account isolation, durable session
// state, account-switch history, and transparent refresh-on-401 for HTTP
// requests.
//
// The root package defines the shared types and service interfaces;
// concrete implementations live in the subpackages (token, session,
// history, storage, api, transport) and are injected via Option functions,
// so tests can replace any of them (see fake/).
//
// Example assembly:
//
//	tokens := token.NewStore()
//	store := storage.NewMemory()
//	sessions := session.New(store, tokens)
//	client, err := erpauth.NewClient(
//	    erpauth.Config{Endpoint: "https://erp.example.com/api/v1"},
//	    erpauth.WithAuthAPI(api.New("https://erp.example.com/api/v1")),
//	    erpauth.WithSessionStore(sessions),
//	    erpauth.WithHistoryStore(history.New(store, tokens)),
//	    erpauth.WithTokenCache(tokens),
//	)
package erpauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/plazma-edu/erpauth-go/audit"
	"github.com/plazma-edu/erpauth-go/metrics"
)

// Client is the aggregate entry point for auth operations. Service
// implementations are injected via Option functions.
type Client struct {
	config   Config
	logger   *slog.Logger
	sessions SessionStore
	history  HistoryStore
	tokens   TokenCache
	authAPI  AuthAPI
	metrics  *metrics.Metrics
	audit    *audit.Logger
}

// Config holds connection and behavior configuration.
type Config struct {
	// Endpoint is the base URL of the ERP backend, e.g.
	// "https://erp.example.com/api/v1".
	Endpoint string `env:"ERPAUTH_ENDPOINT"`

	// StorageDir is where session and history state is persisted. Empty
	// means ~/.config/erpauth.
	StorageDir string `env:"ERPAUTH_STORAGE_DIR"`

	// HistoryCapacity bounds the recent-accounts list. Default: 5.
	HistoryCapacity int `env:"ERPAUTH_HISTORY_CAPACITY" envDefault:"5"`

	// HTTPTimeout bounds auth endpoint calls, including the refresh call
	// queued 401s wait on. Default: 10 seconds.
	HTTPTimeout time.Duration `env:"ERPAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	// MetricsEnabled turns on Prometheus metrics.
	MetricsEnabled bool `env:"ERPAUTH_METRICS_ENABLED" envDefault:"false"`
}

// Option configures the Client.
type Option func(*Client)

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSessionStore sets the session state machine implementation.
func WithSessionStore(s SessionStore) Option {
	return func(c *Client) { c.sessions = s }
}

// WithHistoryStore sets the account history implementation.
func WithHistoryStore(h HistoryStore) Option {
	return func(c *Client) { c.history = h }
}

// WithTokenCache sets the per-user token store.
func WithTokenCache(t TokenCache) Option {
	return func(c *Client) { c.tokens = t }
}

// WithAuthAPI sets the backend auth endpoint implementation.
func WithAuthAPI(a AuthAPI) Option {
	return func(c *Client) { c.authAPI = a }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithAuditLogger sets the audit event logger.
func WithAuditLogger(a *audit.Logger) Option {
	return func(c *Client) { c.audit = a }
}

// NewClient creates a new auth client with the given configuration and
// options.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	c := &Client{config: cfg, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if cfg.Endpoint == "" && c.authAPI == nil {
		return nil, fmt.Errorf("erpauth: either Config.Endpoint or an injected AuthAPI is required")
	}
	if c.metrics == nil {
		c.metrics = metrics.New(cfg.MetricsEnabled)
	}
	return c, nil
}

// Config returns the client configuration.
func (c *Client) Config() Config { return c.config }

// Sessions returns the session store, or nil if not configured.
func (c *Client) Sessions() SessionStore { return c.sessions }

// History returns the history store, or nil if not configured.
func (c *Client) History() HistoryStore { return c.history }

// Tokens returns the token cache, or nil if not configured.
func (c *Client) Tokens() TokenCache { return c.tokens }

// AuthAPI returns the backend auth endpoints, or nil if not configured.
func (c *Client) AuthAPI() AuthAPI { return c.authAPI }

// Initialize restores persisted state. Safe to call more than once.
func (c *Client) Initialize() {
	if c.sessions != nil {
		c.sessions.Initialize()
	}
}

// SignIn authenticates against the backend and, on success, installs the
// resulting session and records the account in history. Failures leave the
// current session untouched.
func (c *Client) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	if c.authAPI == nil || c.sessions == nil {
		return nil, fmt.Errorf("erpauth: sign-in requires an AuthAPI and a SessionStore")
	}

	result, err := c.authAPI.SignIn(ctx, req)
	if err != nil {
		c.metrics.RecordSignIn("failure")
		c.auditLog(ctx, audit.Event{Action: audit.ActionSignIn, Result: audit.ResultFailure, Error: err.Error()})
		return nil, err
	}

	c.sessions.SetState(Session{
		AccessToken:      result.AccessToken,
		UserID:           result.UserID,
		OrganizationID:   result.OrganizationID,
		OrganizationName: result.OrganizationName,
		LoginID:          req.ID,
	})

	if c.history != nil {
		if err := c.history.Upsert(HistoryEntry{
			UserID:           result.UserID,
			DisplayName:      req.ID,
			OrganizationName: result.OrganizationName,
		}); err != nil {
			c.logger.Warn("failed to record account history", "error", err)
		}
	}

	c.metrics.RecordSignIn("success")
	c.auditLog(ctx, audit.Event{
		Action:         audit.ActionSignIn,
		Result:         audit.ResultSuccess,
		UserID:         result.UserID,
		OrganizationID: result.OrganizationID,
	})
	c.logger.Info("signed in", "user_id", result.UserID, "organization_id", result.OrganizationID)
	return result, nil
}

// SignOut clears the session and all cached tokens. The persisted record is
// deleted, not nulled.
func (c *Client) SignOut(ctx context.Context) {
	userID := ""
	if c.sessions != nil {
		userID = c.sessions.Snapshot().UserID
		c.sessions.ClearState()
	} else if c.tokens != nil {
		c.tokens.ClearAll()
	}

	c.metrics.RecordSignOut()
	c.auditLog(ctx, audit.Event{Action: audit.ActionSignOut, Result: audit.ResultSuccess, UserID: userID})
	c.logger.Info("signed out", "user_id", userID)
}

// SwitchAccount activates a remembered account. When a cached token exists
// the switch is immediate and the session snapshot follows; otherwise
// onNeedLogin is invoked so the caller can route to a credential prompt.
func (c *Client) SwitchAccount(ctx context.Context, entry HistoryEntry, onNeedLogin func(userID string)) error {
	if c.history == nil {
		return fmt.Errorf("erpauth: account switch requires a HistoryStore")
	}

	prompted := false
	err := c.history.Activate(entry, func(userID string) {
		prompted = true
		if onNeedLogin != nil {
			onNeedLogin(userID)
		}
	})
	if err != nil {
		c.auditLog(ctx, audit.Event{Action: audit.ActionAccountSwitch, Result: audit.ResultFailure, UserID: entry.UserID, Error: err.Error()})
		return err
	}

	if prompted {
		c.metrics.RecordAccountSwitch("prompt")
		c.auditLog(ctx, audit.Event{Action: audit.ActionAccountSwitch, Result: audit.ResultPrompt, UserID: entry.UserID})
		return nil
	}

	if c.sessions != nil && c.tokens != nil {
		if tok := c.tokens.TokenFor(entry.UserID); tok != "" {
			c.sessions.SetState(Session{
				AccessToken:      tok,
				UserID:           entry.UserID,
				OrganizationName: entry.OrganizationName,
				LoginID:          entry.DisplayName,
			})
		}
	}

	c.metrics.RecordAccountSwitch("cached")
	c.auditLog(ctx, audit.Event{Action: audit.ActionAccountSwitch, Result: audit.ResultSuccess, UserID: entry.UserID})
	return nil
}

// Close releases all resources held by the client.
// Any injected service that implements io.Closer will be closed.
func (c *Client) Close() error {
	closers := []any{
		c.sessions, c.history, c.tokens, c.authAPI,
	}
	if c.audit != nil {
		closers = append(closers, c.audit)
	}
	var firstErr error
	for _, svc := range closers {
		if cl, ok := svc.(io.Closer); ok && cl != nil {
			if err := cl.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// auditLog emits the event, filling identity fields from the context (see
// WithUserID, WithOrganizationID) when the operation did not set them.
func (c *Client) auditLog(ctx context.Context, event audit.Event) {
	if c.audit == nil {
		return
	}
	if event.UserID == "" {
		event.UserID = UserIDFromContext(ctx)
	}
	if event.OrganizationID == "" {
		event.OrganizationID = OrganizationIDFromContext(ctx)
	}
	c.audit.LogCtx(ctx, event)
}
