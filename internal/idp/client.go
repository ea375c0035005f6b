package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dgellow/melody/internal/ioutil"
	"github.com/dgellow/melody/internal/log"
	"github.com/dgellow/melody/internal/urlutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/spotify"
)

const (
	// DefaultAPIBaseURL is Spotify's Web API host
	DefaultAPIBaseURL = "https://api.spotify.com"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = ioutil.ErrorBodyLimit
	maxAPIBody     = 8 << 20
)

// Client talks to Spotify's accounts service and Web API.
// It performs no retries; every call is bounded by the configured timeout.
type Client struct {
	oauth      oauth2.Config
	apiBaseURL string
	httpClient *http.Client
	tracer     trace.Tracer
}

// NewClient creates a client from an immutable config
func NewClient(cfg Config) *Client {
	endpoint := spotify.Endpoint
	if cfg.AuthorizationURL != "" {
		endpoint.AuthURL = cfg.AuthorizationURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	endpoint.AuthStyle = oauth2.AuthStyleInHeader

	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = DefaultAPIBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       append([]string(nil), cfg.Scopes...),
			Endpoint:     endpoint,
		},
		apiBaseURL: strings.TrimSuffix(apiBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tracer:     otel.Tracer("github.com/dgellow/melody/internal/idp"),
	}
}

// AuthorizationURL builds the provider consent URL carrying state.
// The result depends only on the config and state.
func (c *Client) AuthorizationURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode trades an authorization code for a token set
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenSet, error) {
	ctx, span := c.startSpan(ctx, "spotify.token.exchange", http.MethodPost)
	defer span.End()

	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		status, body := retrieveDetails(err)
		endSpan(span, status, err)
		log.LogErrorWithFields("idp", "Authorization code exchange failed", map[string]any{
			"status": status,
			"body":   body,
			"error":  err.Error(),
		})
		return nil, &TokenExchangeError{StatusCode: status, Body: body, Err: err}
	}

	ts := tokenSetFrom(tok, true)
	endSpan(span, http.StatusOK, nil)
	log.LogDebugWithFields("idp", "Authorization code exchanged", map[string]any{
		"expiresIn":       ts.ExpiresIn,
		"hasRefreshToken": ts.RefreshToken != "",
		"scope":           ts.Scope,
	})
	return ts, nil
}

// RefreshTokens runs the refresh grant. The returned RefreshToken is empty
// unless the provider rotated it.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*TokenSet, error) {
	ctx, span := c.startSpan(ctx, "spotify.token.refresh", http.MethodPost)
	defer span.End()

	if refreshToken == "" {
		err := fmt.Errorf("refresh token is empty")
		endSpan(span, 0, err)
		return nil, &TokenRefreshError{Err: err}
	}

	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		status, body := retrieveDetails(err)
		endSpan(span, status, err)
		log.LogWarnWithFields("idp", "Token refresh failed", map[string]any{
			"status": status,
			"body":   body,
			"error":  err.Error(),
		})
		return nil, &TokenRefreshError{StatusCode: status, Body: body, Err: err}
	}

	// oauth2 carries the old refresh token forward; only the raw response
	// tells whether a new one was issued.
	ts := tokenSetFrom(tok, false)
	endSpan(span, http.StatusOK, nil)
	log.LogDebugWithFields("idp", "Token refreshed", map[string]any{
		"expiresIn": ts.ExpiresIn,
		"rotated":   ts.RefreshToken != "",
	})
	return ts, nil
}

// FetchUserProfile reads the current user's profile from /v1/me
func (c *Client) FetchUserProfile(ctx context.Context, accessToken string) (*UserProfile, error) {
	resp, err := c.Get(ctx, accessToken, "me")
	if err != nil {
		return nil, &ProfileFetchError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		body := string(resp.Body)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, &ProfileFetchError{StatusCode: resp.StatusCode, Body: body}
	}

	var profile UserProfile
	if err := json.Unmarshal(resp.Body, &profile); err != nil {
		return nil, &ProfileFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding profile: %w", err)}
	}
	if profile.ID == "" {
		return nil, &ProfileFetchError{StatusCode: resp.StatusCode, Err: fmt.Errorf("profile response has no id")}
	}
	return &profile, nil
}

// Get performs a bearer-authenticated GET of a Web API path relative to /v1/.
// apiPath may carry a query string. The answer is returned verbatim whatever
// its status; only transport failures are errors.
func (c *Client) Get(ctx context.Context, accessToken, apiPath string) (*APIResponse, error) {
	target, err := c.apiURL(apiPath)
	if err != nil {
		return nil, err
	}

	ctx, span := c.startSpan(ctx, "spotify.api.get", http.MethodGet)
	defer span.End()
	span.SetAttributes(attribute.String("spotify.api.path", apiPath))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		endSpan(span, 0, err)
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		endSpan(span, 0, err)
		return nil, fmt.Errorf("GET %s: %w", apiPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIBody))
	if err != nil {
		endSpan(span, resp.StatusCode, err)
		return nil, fmt.Errorf("reading %s response: %w", apiPath, err)
	}

	var statusErr error
	if resp.StatusCode >= 400 {
		statusErr = fmt.Errorf("status %d", resp.StatusCode)
	}
	endSpan(span, resp.StatusCode, statusErr)

	return &APIResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// apiURL resolves apiPath under {api}/v1/; dot segments cannot climb out of it
func (c *Client) apiURL(apiPath string) (string, error) {
	ref, err := url.Parse(apiPath)
	if err != nil {
		return "", fmt.Errorf("invalid api path %q: %w", apiPath, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("api path must be relative: %q", apiPath)
	}

	cleaned := path.Clean("/" + ref.Path)
	target, err := urlutil.JoinPath(c.apiBaseURL, "v1", cleaned)
	if err != nil {
		return "", err
	}
	if ref.RawQuery == "" {
		return target, nil
	}
	return target + "?" + ref.RawQuery, nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) startSpan(ctx context.Context, name, method string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(semconv.HTTPRequestMethodKey.String(method)),
	)
}

func endSpan(span trace.Span, status int, err error) {
	if status != 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func tokenSetFrom(tok *oauth2.Token, keepRefresh bool) *TokenSet {
	ts := &TokenSet{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   expiresIn(tok),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if keepRefresh {
		ts.RefreshToken = tok.RefreshToken
	} else if rotated, ok := tok.Extra("refresh_token").(string); ok {
		ts.RefreshToken = rotated
	}
	return ts
}

// expiresIn prefers the raw expires_in value over the derived expiry
func expiresIn(tok *oauth2.Token) int {
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int(v)
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	if tok.ExpiresIn != 0 {
		return int(tok.ExpiresIn)
	}
	if tok.Expiry.IsZero() {
		return 0
	}
	return int(time.Until(tok.Expiry).Round(time.Second) / time.Second)
}
