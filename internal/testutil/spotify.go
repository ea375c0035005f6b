package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	FakeClientID     = "test-client-id"
	FakeClientSecret = "test-client-secret"
	FakeAuthCode     = "test-auth-code"
)

// FakeSpotify simulates the Spotify accounts service and Web API.
// Fields may be changed between requests; the server reads them under lock.
type FakeSpotify struct {
	Server *httptest.Server

	mu            sync.Mutex
	accessToken   string
	refreshToken  string
	refreshedAT   string
	rotateTo      string
	expiresIn     int
	scope         string
	profile       map[string]any
	profileStatus int
	tokenStatus   int
	refreshStatus int
	refreshDelay  time.Duration
	issued        map[string]bool
	lastExchange  url.Values

	exchangeCalls atomic.Int32
	refreshCalls  atomic.Int32
	profileCalls  atomic.Int32
	apiCalls      atomic.Int32
}

// NewFakeSpotify starts a fake provider that is closed when the test ends
func NewFakeSpotify(t testing.TB) *FakeSpotify {
	t.Helper()

	f := &FakeSpotify{
		accessToken:  "AT1",
		refreshToken: "RT1",
		refreshedAT:  "AT2",
		expiresIn:    3600,
		scope:        "user-read-private user-read-email",
		profile: map[string]any{
			"id":           "user-1",
			"display_name": "Ada",
			"email":        "ada@example.com",
			"country":      "SE",
			"product":      "premium",
			"images":       []map[string]any{{"url": "https://i.scdn.co/image/ada", "height": 300, "width": 300}},
		},
		issued: map[string]bool{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", f.handleAuthorize)
	mux.HandleFunc("/api/token", f.handleToken)
	mux.HandleFunc("/v1/me", f.handleProfile)
	mux.HandleFunc("/v1/", f.handleAPI)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeSpotify) AuthURL() string  { return f.Server.URL + "/authorize" }
func (f *FakeSpotify) TokenURL() string { return f.Server.URL + "/api/token" }
func (f *FakeSpotify) APIURL() string   { return f.Server.URL }

// SetTokens sets what the code exchange issues
func (f *FakeSpotify) SetTokens(accessToken, refreshToken string, expiresIn int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessToken, f.refreshToken, f.expiresIn = accessToken, refreshToken, expiresIn
}

// SetRefreshed sets the access token issued by refresh and, when rotateTo is
// non-empty, the new refresh token returned alongside it.
func (f *FakeSpotify) SetRefreshed(accessToken, rotateTo string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshedAT, f.rotateTo = accessToken, rotateTo
}

// AcceptRefreshToken makes refresh accept rt, as if an earlier exchange issued it
func (f *FakeSpotify) AcceptRefreshToken(rt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshToken = rt
}

func (f *FakeSpotify) SetProfile(profile map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profile = profile
}

// FailProfile makes /v1/me answer with status
func (f *FakeSpotify) FailProfile(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileStatus = status
}

// FailExchange makes the authorization_code grant answer with status
func (f *FakeSpotify) FailExchange(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
}

// FailRefresh makes the refresh_token grant answer with status
func (f *FakeSpotify) FailRefresh(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshStatus = status
}

func (f *FakeSpotify) SetRefreshDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshDelay = d
}

// IssueAccessToken makes the Web API accept token without an exchange
func (f *FakeSpotify) IssueAccessToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued[token] = true
}

// LastExchange returns the form of the last authorization_code grant
func (f *FakeSpotify) LastExchange() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastExchange
}

func (f *FakeSpotify) ExchangeCalls() int { return int(f.exchangeCalls.Load()) }
func (f *FakeSpotify) RefreshCalls() int  { return int(f.refreshCalls.Load()) }
func (f *FakeSpotify) ProfileCalls() int  { return int(f.profileCalls.Load()) }
func (f *FakeSpotify) APICalls() int      { return int(f.apiCalls.Load()) }

func (f *FakeSpotify) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := fmt.Sprintf("%s?code=%s&state=%s", q.Get("redirect_uri"), FakeAuthCode, url.QueryEscape(q.Get("state")))
	http.Redirect(w, r, target, http.StatusFound)
}

func (f *FakeSpotify) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok || id != FakeClientID || secret != FakeClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_client"})
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		f.exchange(w, r.PostForm)
	case "refresh_token":
		f.refresh(w, r.PostForm)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
	}
}

func (f *FakeSpotify) exchange(w http.ResponseWriter, form url.Values) {
	f.exchangeCalls.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastExchange = form

	if f.tokenStatus != 0 {
		writeJSON(w, f.tokenStatus, map[string]any{"error": "server_error", "error_description": "exchange failed"})
		return
	}
	if form.Get("code") != FakeAuthCode {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid authorization code"})
		return
	}

	f.issued[f.accessToken] = true
	resp := map[string]any{
		"access_token": f.accessToken,
		"token_type":   "Bearer",
		"expires_in":   f.expiresIn,
		"scope":        f.scope,
	}
	if f.refreshToken != "" {
		resp["refresh_token"] = f.refreshToken
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeSpotify) refresh(w http.ResponseWriter, form url.Values) {
	f.refreshCalls.Add(1)

	f.mu.Lock()
	delay := f.refreshDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refreshStatus != 0 {
		writeJSON(w, f.refreshStatus, map[string]any{"error": "invalid_grant", "error_description": "Refresh token revoked"})
		return
	}
	if rt := form.Get("refresh_token"); rt == "" || (rt != f.refreshToken && rt != f.rotateTo) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid refresh token"})
		return
	}

	f.issued[f.refreshedAT] = true
	resp := map[string]any{
		"access_token": f.refreshedAT,
		"token_type":   "Bearer",
		"expires_in":   f.expiresIn,
		"scope":        f.scope,
	}
	if f.rotateTo != "" {
		resp["refresh_token"] = f.rotateTo
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *FakeSpotify) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued[token]
}

func (f *FakeSpotify) handleProfile(w http.ResponseWriter, r *http.Request) {
	f.profileCalls.Add(1)

	if !f.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, apiError(http.StatusUnauthorized, "Invalid access token"))
		return
	}

	f.mu.Lock()
	status, profile := f.profileStatus, f.profile
	f.mu.Unlock()

	if status != 0 {
		writeJSON(w, status, apiError(status, "profile unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (f *FakeSpotify) handleAPI(w http.ResponseWriter, r *http.Request) {
	f.apiCalls.Add(1)

	if !f.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, apiError(http.StatusUnauthorized, "Invalid access token"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":  r.URL.Path,
		"query": r.URL.RawQuery,
	})
}

func apiError(status int, message string) map[string]any {
	return map[string]any{"error": map[string]any{"status": status, "message": message}}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
