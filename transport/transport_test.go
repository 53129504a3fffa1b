package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	erpauth "github.com/plazma-edu/erpauth-go"
	"github.com/plazma-edu/erpauth-go/api"
	"github.com/plazma-edu/erpauth-go/audit"
	"github.com/plazma-edu/erpauth-go/token"
)

// stubAuthAPI counts refresh calls and serves a scripted result.
type stubAuthAPI struct {
	mu           sync.Mutex
	refreshCalls int
	refreshDelay time.Duration
	refreshToken string
	refreshErr   error
}

func (s *stubAuthAPI) SignIn(context.Context, erpauth.SignInRequest) (*erpauth.SignInResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAuthAPI) Refresh(_ context.Context, userID string) (*erpauth.RefreshResult, error) {
	s.mu.Lock()
	s.refreshCalls++
	delay, tok, err := s.refreshDelay, s.refreshToken, s.refreshErr
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &erpauth.RefreshResult{AccessToken: tok}, nil
}

func (s *stubAuthAPI) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// newSignedInFacade returns a facade with admin active and the given token
// cached.
func newSignedInFacade(tok string) *token.Facade {
	store := token.NewStore()
	store.SetActiveUserID("admin")
	store.CacheTokenFor("admin", tok, erpauth.OriginAPI)
	return token.NewFacade(store)
}

func TestRoundTrip_StampsBearerToken(t *testing.T) {
	var gotAuth, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(newSignedInFacade("PLAZMA01-admin-token"), &stubAuthAPI{})}
	resp, err := client.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if gotAuth != "Bearer PLAZMA01-admin-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer PLAZMA01-admin-token")
	}
	if gotReqID == "" {
		t.Error("expected an X-Request-ID header on the outgoing request")
	}
}

func TestRoundTrip_NoTokenNoHeader(t *testing.T) {
	var gotAuth string
	var seen bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = r.Header["Authorization"]
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(token.NewFacade(token.NewStore()), &stubAuthAPI{})}
	resp, err := client.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if seen {
		t.Errorf("Authorization header must be absent without a token, got %q", gotAuth)
	}
}

func TestRoundTrip_AuthEndpointsNeverStampedNeverRetried(t *testing.T) {
	authAPI := &stubAuthAPI{refreshToken: "unused"}
	var gotAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = append(gotAuth, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(newSignedInFacade("stale-token"), authAPI)}
	for _, path := range []string{api.SignInPath, api.RefreshPath + "/admin"} {
		resp, err := client.Post(srv.URL+path, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("POST %s status = %d, the 401 must pass through untouched", path, resp.StatusCode)
		}
	}

	for i, auth := range gotAuth {
		if auth != "" {
			t.Errorf("request %d carried Authorization %q, auth endpoints must not be stamped", i, auth)
		}
	}
	if authAPI.calls() != 0 {
		t.Errorf("refresh calls = %d, a 401 from an auth endpoint must not trigger a refresh", authAPI.calls())
	}
}

func TestRoundTrip_AdoptsTokenFromSignInResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":"PLAZMA01-admin-token","userId":"admin"}`))
	}))
	defer srv.Close()

	facade := token.NewFacade(token.NewStore())
	client := &http.Client{Transport: New(facade, &stubAuthAPI{})}
	resp, err := client.Post(srv.URL+api.SignInPath, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if facade.AccessToken() != "PLAZMA01-admin-token" {
		t.Errorf("AccessToken = %q, want the adopted token", facade.AccessToken())
	}
	// The peek must not consume the body.
	if !strings.Contains(string(body), "PLAZMA01-admin-token") {
		t.Errorf("response body lost after token peek: %q", body)
	}
}

func TestRoundTrip_RefreshAndRetryOn401(t *testing.T) {
	authAPI := &stubAuthAPI{refreshToken: "new-token-1"}
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("Authorization") != "Bearer new-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"students":[]}`))
	}))
	defer srv.Close()

	facade := newSignedInFacade("stale-token")
	client := &http.Client{Transport: New(facade, authAPI)}
	resp, err := client.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200 after transparent refresh", resp.StatusCode)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (original + retry)", got)
	}
	if authAPI.calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", authAPI.calls())
	}
	if facade.AccessToken() != "new-token-1" {
		t.Errorf("AccessToken = %q, want the refreshed token", facade.AccessToken())
	}
}

func TestRoundTrip_ConcurrentRequestsShareOneRefresh(t *testing.T) {
	const parallel = 8

	authAPI := &stubAuthAPI{refreshToken: "new-token-1", refreshDelay: 200 * time.Millisecond}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(newSignedInFacade("stale-token"), authAPI)}

	var wg sync.WaitGroup
	statuses := make([]int, parallel)
	errs := make([]error, parallel)
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := client.Get(srv.URL + "/api/students")
			if err != nil {
				errs[i] = err
				return
			}
			_ = resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	for i := 0; i < parallel; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if statuses[i] != http.StatusOK {
			t.Errorf("request %d status = %d, want 200", i, statuses[i])
		}
	}
	if authAPI.calls() != 1 {
		t.Errorf("refresh calls = %d, concurrent 401s must share one refresh", authAPI.calls())
	}
}

func TestRoundTrip_RetriesAtMostOnce(t *testing.T) {
	authAPI := &stubAuthAPI{refreshToken: "new-token-1"}
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(newSignedInFacade("stale-token"), authAPI)}
	resp, err := client.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, a second 401 must surface to the caller", resp.StatusCode)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("server saw %d requests, want exactly 2", got)
	}
	if authAPI.calls() != 1 {
		t.Errorf("refresh calls = %d, want 1", authAPI.calls())
	}
}

func TestRoundTrip_RefreshFailureClearsSessionAndLatches(t *testing.T) {
	authAPI := &stubAuthAPI{refreshErr: errors.New("refresh credential expired")}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	facade := newSignedInFacade("stale-token")
	client := &http.Client{Transport: New(facade, authAPI)}

	if _, err := client.Get(srv.URL + "/api/students"); err == nil {
		t.Fatal("expected the refresh failure to surface as an error")
	}
	if facade.AccessToken() != "" {
		t.Errorf("AccessToken = %q, want cleared after refresh failure", facade.AccessToken())
	}
	if !facade.Store().UnauthorizedFired() {
		t.Error("unauthorized latch must be set after a failed refresh")
	}

	// The session was already torn down: further 401s pass straight through
	// without another refresh attempt. The active pointer is gone, so a new
	// user would have to sign in, but simulate a lingering request.
	facade.Store().SetActiveUserID("admin")
	facade.Store().MarkUnauthorized()
	resp, err := client.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want the raw 401 while latched", resp.StatusCode)
	}
	if authAPI.calls() != 1 {
		t.Errorf("refresh calls = %d, the latch must suppress further refreshes", authAPI.calls())
	}
}

func TestRoundTrip_RefreshEmitsAuditEvents(t *testing.T) {
	var mu sync.Mutex
	var events []audit.Event
	logger := audit.New(10, audit.WithHandler(func(e audit.Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer new-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Successful refresh.
	okClient := &http.Client{Transport: New(newSignedInFacade("stale-token"),
		&stubAuthAPI{refreshToken: "new-token-1"}, WithAuditLogger(logger))}
	resp, err := okClient.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	// Failed refresh, fresh facade so the latch starts clear.
	failClient := &http.Client{Transport: New(newSignedInFacade("stale-token"),
		&stubAuthAPI{refreshErr: errors.New("refresh credential expired")}, WithAuditLogger(logger))}
	if _, err := failClient.Get(srv.URL + "/api/students"); err == nil {
		t.Fatal("expected the refresh failure to surface")
	}

	_ = logger.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d audit events, want 2", len(events))
	}
	if events[0].Action != audit.ActionRefresh || events[0].Result != audit.ResultSuccess || events[0].UserID != "admin" {
		t.Errorf("unexpected success event: %+v", events[0])
	}
	if events[1].Action != audit.ActionRefresh || events[1].Result != audit.ResultFailure || events[1].Error == "" {
		t.Errorf("unexpected failure event: %+v", events[1])
	}
}

func TestRoundTrip_NoActiveUserPassesThrough(t *testing.T) {
	authAPI := &stubAuthAPI{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	// Legacy slot only: a token without an owning user cannot be refreshed.
	store := token.NewStore()
	store.SetLegacyToken("orphan-token", erpauth.OriginAPI)
	client := &http.Client{Transport: New(token.NewFacade(store), authAPI)}

	resp, err := client.Get(srv.URL + "/api/students")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 passed through", resp.StatusCode)
	}
	if authAPI.calls() != 0 {
		t.Errorf("refresh calls = %d, want 0 without an active user", authAPI.calls())
	}
}

func TestRoundTrip_ReplaysBodyOnRetry(t *testing.T) {
	authAPI := &stubAuthAPI{refreshToken: "new-token-1"}
	var bodies []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer new-token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: New(newSignedInFacade("stale-token"), authAPI)}
	const payload = `{"grade":"A"}`
	resp, err := client.Post(srv.URL+"/api/grades", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if len(bodies) != 2 || bodies[0] != payload || bodies[1] != payload {
		t.Errorf("server saw bodies %q, the retry must replay the original payload", bodies)
	}
}

func TestIsAuthEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{api.SignInPath, true},
		{"/api/v1" + api.SignInPath, true},
		{api.SignInPath + "/", true},
		{api.SignInPath + "?redirect=1", true},
		{api.RefreshPath, true},
		{api.RefreshPath + "/admin", true},
		{"/api/v1" + api.RefreshPath + "/admin", true},
		{"/api/students", false},
		{"/auth/sign-in-history", false},
		{api.RefreshPath + "/admin/extra", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isAuthEndpoint(tt.path); got != tt.want {
			t.Errorf("isAuthEndpoint(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
