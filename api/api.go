// Package api implements the ERP backend's authentication endpoints: the
// sign-in and token-refresh calls consumed by the session store and the
// HTTP transport.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	erpauth "github.com/plazma-edu/erpauth-go"
)

// SignInPath is the sign-in endpoint path. Requests to it are never stamped
// with an Authorization header and never enter the 401-retry protocol.
const SignInPath = "/auth/sign-in"

// RefreshPath is the token-refresh endpoint base path. The user ID is
// appended as the final path segment.
const RefreshPath = "/auth/token/refresh"

// Client calls the ERP auth endpoints over HTTP.
type Client struct {
	endpoint   string
	httpClient *http.Client
	validate   *validator.Validate
}

// compile-time check
var _ erpauth.AuthAPI = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. The default carries a 10 second
// timeout, which also bounds how long queued 401 retries wait on a refresh.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Client) { a.httpClient = c }
}

// New creates an auth API client against the given base endpoint, e.g.
// "https://erp.example.com/api/v1".
func New(endpoint string, opts ...Option) *Client {
	a := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		validate:   validator.New(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// SignIn exchanges credentials for a token and user identity. Credential or
// network failures surface as errors and leave no partial state anywhere;
// a well-formed HTTP 200 with a malformed body is a *ValidationError.
func (a *Client) SignIn(ctx context.Context, req erpauth.SignInRequest) (*erpauth.SignInResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("erpauth/api: failed to encode sign-in request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+SignInPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("erpauth/api: failed to create sign-in request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result erpauth.SignInResult
	if err := a.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refresh exchanges the cached credential for a fresh access token for the
// given user.
func (a *Client) Refresh(ctx context.Context, userID string) (*erpauth.RefreshResult, error) {
	if userID == "" {
		return nil, erpauth.ErrNoActiveUser
	}

	refreshURL := a.endpoint + RefreshPath + "/" + url.PathEscape(userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, refreshURL, nil)
	if err != nil {
		return nil, fmt.Errorf("erpauth/api: failed to create refresh request: %w", err)
	}

	var result erpauth.RefreshResult
	if err := a.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do issues the request, decodes a 200 response into out, and validates the
// decoded shape.
func (a *Client) do(req *http.Request, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("erpauth/api: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("erpauth/api: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &ValidationError{Detail: "response is not valid JSON", Err: err}
	}
	if err := a.validate.Struct(out); err != nil {
		return &ValidationError{Detail: "response shape mismatch", Err: err}
	}
	return nil
}
