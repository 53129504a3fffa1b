// Package transport wraps an http.RoundTripper to attach bearer tokens to
// outgoing ERP requests and to perform exactly one transparent
// refresh-and-retry cycle on an authorization failure.
//
// Concurrent 401s share a single refresh network call: callers join the
// in-flight singleflight call and all receive the same new token (or the
// same error) when it settles. The auth endpoints themselves are exempt
// from both stamping and the retry protocol.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	erpauth "github.com/plazma-edu/erpauth-go"
	"github.com/plazma-edu/erpauth-go/audit"
	"github.com/plazma-edu/erpauth-go/metrics"
	"github.com/plazma-edu/erpauth-go/token"
)

// maxPeekBytes bounds how much of an auth endpoint response body is buffered
// when peeking for an access token.
const maxPeekBytes = 1 << 20

type ctxKey string

// ctxKeyRetried marks a request that already went through one
// refresh-and-retry cycle so it can never loop.
const ctxKeyRetried ctxKey = "erpauth_retried"

// Transport is the intercepting http.RoundTripper.
type Transport struct {
	base    http.RoundTripper
	facade  *token.Facade
	authAPI erpauth.AuthAPI
	metrics *metrics.Metrics
	audit   *audit.Logger
	logger  *slog.Logger

	group singleflight.Group
}

// compile-time check
var _ http.RoundTripper = (*Transport)(nil)

// Option configures the Transport.
type Option func(*Transport)

// WithBase sets the wrapped round tripper. Defaults to
// http.DefaultTransport.
func WithBase(rt http.RoundTripper) Option {
	return func(t *Transport) { t.base = rt }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// WithAuditLogger sets the audit event logger; refresh outcomes are audited.
func WithAuditLogger(a *audit.Logger) Option {
	return func(t *Transport) { t.audit = a }
}

// WithLogger sets a structured logger. Token values are never logged.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// New creates an intercepting transport reading tokens through facade and
// refreshing through authAPI.
func New(facade *token.Facade, authAPI erpauth.AuthAPI, opts ...Option) *Transport {
	t := &Transport{
		base:    http.DefaultTransport,
		facade:  facade,
		authAPI: authAPI,
		metrics: metrics.New(false),
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	excluded := isAuthEndpoint(req.URL.Path)

	out := req.Clone(req.Context())
	if out.Header.Get("X-Request-ID") == "" {
		out.Header.Set("X-Request-ID", uuid.NewString())
	}
	if err := ensureReplayable(out); err != nil {
		return nil, err
	}

	if !excluded {
		if tok := t.facade.AccessToken(); tok != "" {
			out.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if excluded {
		// Sign-in and refresh responses are how tokens enter the system:
		// adopt immediately so the session store observes the change.
		t.adoptToken(resp)
		return resp, nil
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	t.metrics.RecordUnauthorized()

	store := t.facade.Store()
	if alreadyRetried(req.Context()) || store.UnauthorizedFired() {
		return resp, nil
	}

	userID := store.ActiveUserID()
	if userID == "" {
		return resp, nil
	}

	// The response is replaced by the retry either way.
	drain(resp)

	newTok, err := t.refresh(req.Context(), userID)
	if err != nil {
		return nil, err
	}

	return t.retry(out, newTok)
}

// refresh performs (or joins) the single in-flight refresh call for userID.
// On failure the current token is cleared and the unauthorized latch set,
// so the session store signs the user out and subsequent 401s pass through
// untouched.
func (t *Transport) refresh(ctx context.Context, userID string) (string, error) {
	result, err, shared := t.group.Do("refresh:"+userID, func() (any, error) {
		start := time.Now()
		// Detached context: the flight serves every queued caller, so one
		// canceled caller must not abort it. The API client's own timeout
		// bounds the wait.
		res, err := t.authAPI.Refresh(context.WithoutCancel(ctx), userID)
		if err != nil {
			t.metrics.RecordRefresh("failure", time.Since(start).Seconds())
			t.auditLog(ctx, audit.Event{Action: audit.ActionRefresh, Result: audit.ResultFailure, UserID: userID, Error: err.Error()})
			return nil, err
		}
		t.metrics.RecordRefresh("success", time.Since(start).Seconds())
		t.auditLog(ctx, audit.Event{Action: audit.ActionRefresh, Result: audit.ResultSuccess, UserID: userID})
		return res.AccessToken, nil
	})
	if err != nil {
		t.logger.Warn("token refresh failed, clearing session", "user_id", userID, "shared", shared)
		t.facade.SetAccessToken("", erpauth.OriginRefresh)
		t.facade.Store().MarkUnauthorized()
		return "", fmt.Errorf("erpauth/transport: token refresh failed: %w", err)
	}

	tok := result.(string)
	t.facade.SetAccessToken(tok, erpauth.OriginRefresh)
	return tok, nil
}

func (t *Transport) auditLog(ctx context.Context, event audit.Event) {
	if t.audit == nil {
		return
	}
	t.audit.LogCtx(ctx, event)
}

// retry re-issues the original request once with the new token. The context
// marker guarantees the retried request can never enter another refresh
// cycle.
func (t *Transport) retry(req *http.Request, tok string) (*http.Response, error) {
	t.metrics.RecordRetry()

	retried := req.Clone(context.WithValue(req.Context(), ctxKeyRetried, true))
	retried.Header.Set("Authorization", "Bearer "+tok)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("erpauth/transport: failed to replay request body: %w", err)
		}
		retried.Body = body
	}

	return t.base.RoundTrip(retried)
}

// adoptToken peeks an auth endpoint response body for an access token and
// writes it through the facade. The body is restored for the caller.
func (t *Transport) adoptToken(resp *http.Response) {
	if resp.StatusCode != http.StatusOK || resp.Body == nil {
		return
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPeekBytes))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil {
		return
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.AccessToken == "" {
		return
	}

	t.logger.Debug("token adopted from auth endpoint response")
	t.facade.SetAccessToken(payload.AccessToken, erpauth.OriginAPI)
}

func alreadyRetried(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKeyRetried).(bool)
	return v
}

// ensureReplayable buffers the request body when the standard library did
// not provide GetBody, so a post-refresh retry can re-send it.
func ensureReplayable(req *http.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("erpauth/transport: failed to buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPeekBytes))
	_ = resp.Body.Close()
}
