package idp

import (
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// TokenExchangeError is returned when the authorization code could not be
// traded for tokens. Body holds the provider's error body for server logs.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	return describe("token exchange failed", e.StatusCode, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// TokenRefreshError is returned when a refresh grant fails
type TokenRefreshError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	return describe("token refresh failed", e.StatusCode, e.Err)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// ProfileFetchError is returned when /v1/me fails or is unreadable
type ProfileFetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProfileFetchError) Error() string {
	return describe("profile fetch failed", e.StatusCode, e.Err)
}

func (e *ProfileFetchError) Unwrap() error { return e.Err }

func describe(prefix string, status int, err error) string {
	switch {
	case status != 0 && err != nil:
		return fmt.Sprintf("%s: status %d: %v", prefix, status, err)
	case status != 0:
		return fmt.Sprintf("%s: status %d", prefix, status)
	case err != nil:
		return fmt.Sprintf("%s: %v", prefix, err)
	default:
		return prefix
	}
}

// retrieveDetails extracts status and body from an oauth2 token endpoint error
func retrieveDetails(err error) (int, string) {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return 0, ""
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	body := string(re.Body)
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return status, body
}
