package session

import (
	"errors"
	"fmt"
	"regexp"
)

// Reason codes carried in ?error= redirects and JSON error bodies
const (
	ReasonAccessDenied         = "access_denied"
	ReasonProviderError        = "provider_error"
	ReasonStateMismatch        = "state_mismatch"
	ReasonMissingCode          = "missing_code"
	ReasonAuthenticationFailed = "authentication_failed"
	ReasonSessionExpired       = "session_expired"
	ReasonNotAuthenticated     = "not_authenticated"
	ReasonInvalidUserData      = "invalid_user_data"
)

var providerCode = regexp.MustCompile(`^[a-z0-9_]+$`)

// ProviderDeniedError is the provider's own error from the callback query
type ProviderDeniedError struct {
	Code string
}

// NewProviderDeniedError keeps well-formed provider codes and replaces
// anything else with provider_error.
func NewProviderDeniedError(raw string) *ProviderDeniedError {
	if len(raw) > 64 || !providerCode.MatchString(raw) {
		return &ProviderDeniedError{Code: ReasonProviderError}
	}
	return &ProviderDeniedError{Code: raw}
}

func (e *ProviderDeniedError) Error() string  { return "provider denied authorization: " + e.Code }
func (e *ProviderDeniedError) Reason() string { return e.Code }

// CsrfMismatchError means the returned state does not match the stored one
type CsrfMismatchError struct {
	MissingStored   bool
	MissingReturned bool
}

func (e *CsrfMismatchError) Error() string {
	switch {
	case e.MissingStored:
		return "state mismatch: no stored state"
	case e.MissingReturned:
		return "state mismatch: provider returned no state"
	default:
		return "state mismatch"
	}
}

func (e *CsrfMismatchError) Reason() string { return ReasonStateMismatch }

type MissingCodeError struct{}

func (e *MissingCodeError) Error() string  { return "callback has no authorization code" }
func (e *MissingCodeError) Reason() string { return ReasonMissingCode }

// AuthenticationFailedError wraps an exchange, profile or cookie write failure
type AuthenticationFailedError struct {
	Stage string
	Err   error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed during %s: %v", e.Stage, e.Err)
}

func (e *AuthenticationFailedError) Unwrap() error  { return e.Err }
func (e *AuthenticationFailedError) Reason() string { return ReasonAuthenticationFailed }

// SessionExpiredError means the refresh token no longer yields access tokens
type SessionExpiredError struct {
	Err error
}

func (e *SessionExpiredError) Error() string {
	if e.Err == nil {
		return "session expired"
	}
	return "session expired: " + e.Err.Error()
}

func (e *SessionExpiredError) Unwrap() error  { return e.Err }
func (e *SessionExpiredError) Reason() string { return ReasonSessionExpired }

type NotAuthenticatedError struct{}

func (e *NotAuthenticatedError) Error() string  { return "not authenticated" }
func (e *NotAuthenticatedError) Reason() string { return ReasonNotAuthenticated }

// InvalidUserDataError means the stored profile cookie could not be decoded
type InvalidUserDataError struct {
	Err error
}

func (e *InvalidUserDataError) Error() string  { return fmt.Sprintf("invalid user data: %v", e.Err) }
func (e *InvalidUserDataError) Unwrap() error  { return e.Err }
func (e *InvalidUserDataError) Reason() string { return ReasonInvalidUserData }

type reasoner interface {
	Reason() string
}

// ReasonOf maps an error to its reason code. Errors outside the session
// taxonomy map to authentication_failed; nil maps to "".
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	var r reasoner
	if errors.As(err, &r) {
		return r.Reason()
	}
	return ReasonAuthenticationFailed
}
