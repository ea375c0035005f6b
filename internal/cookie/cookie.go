package cookie

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/melody/internal/crypto"
	"github.com/dgellow/melody/internal/envutil"
	"github.com/dgellow/melody/internal/idp"
	"github.com/dgellow/melody/internal/log"
)

// Cookie names
const (
	StateCookie        = "spotify_auth_state"
	AccessTokenCookie  = "spotify_access_token"
	RefreshTokenCookie = "spotify_refresh_token"
	ProfileCookie      = "spotify_user"
)

const (
	StateTTL     = 10 * time.Minute
	RetentionTTL = 30 * 24 * time.Hour
)

var (
	ErrInvalidProfile      = errors.New("profile cookie is corrupt")
	ErrInvalidRefreshToken = errors.New("refresh token cookie could not be opened")
)

// Session is what the browser currently holds. Empty strings mean absent.
type Session struct {
	AccessToken  string
	RefreshToken string
	Profile      *idp.UserProfile
}

func (s Session) HasAccessToken() bool  { return s.AccessToken != "" }
func (s Session) HasRefreshToken() bool { return s.RefreshToken != "" }

// Store reads and writes the session cookies. With a sealer the refresh
// token is encrypted at rest in the browser.
type Store struct {
	sealer *crypto.Sealer
}

// NewStore creates a store; sealer may be nil
func NewStore(sealer *crypto.Sealer) *Store {
	return &Store{sealer: sealer}
}

// Write sets the access token cookie and, when present, the refresh token and
// profile cookies. The access token cookie lives for ts.ExpiresIn seconds; a
// non-positive lifetime expires it immediately.
func (s *Store) Write(w http.ResponseWriter, ts *idp.TokenSet, profile *idp.UserProfile) error {
	if ts == nil || ts.AccessToken == "" {
		return errors.New("token set has no access token")
	}

	var refreshValue string
	if ts.RefreshToken != "" {
		refreshValue = ts.RefreshToken
		if s.sealer != nil {
			sealed, err := s.sealer.Seal(ts.RefreshToken)
			if err != nil {
				return fmt.Errorf("sealing refresh token: %w", err)
			}
			refreshValue = sealed
		}
	}

	var profileValue string
	if profile != nil {
		encoded, err := encodeProfile(profile)
		if err != nil {
			return err
		}
		profileValue = encoded
	}

	maxAge := ts.ExpiresIn
	if maxAge <= 0 {
		maxAge = -1
	}
	set(w, AccessTokenCookie, ts.AccessToken, maxAge, false)
	if refreshValue != "" {
		set(w, RefreshTokenCookie, refreshValue, int(RetentionTTL.Seconds()), false)
	}
	if profileValue != "" {
		set(w, ProfileCookie, profileValue, int(RetentionTTL.Seconds()), false)
	}

	log.LogTraceWithFields("cookie", "Session cookies written", map[string]any{
		"accessMaxAge":   maxAge,
		"refreshWritten": refreshValue != "",
		"sealed":         refreshValue != "" && s.sealer != nil,
		"profileWritten": profileValue != "",
	})
	return nil
}

// Read returns the session the request carries. A corrupt profile or an
// unopenable refresh token leaves that field empty and is reported through
// the returned error; the other fields are still filled.
func (s *Store) Read(r *http.Request) (Session, error) {
	var sess Session
	var errs []error

	sess.AccessToken = get(r, AccessTokenCookie)

	if raw := get(r, RefreshTokenCookie); raw != "" {
		if s.sealer == nil {
			sess.RefreshToken = raw
		} else if opened, err := s.sealer.Open(raw); err == nil {
			sess.RefreshToken = opened
		} else {
			errs = append(errs, ErrInvalidRefreshToken)
		}
	}

	if raw := get(r, ProfileCookie); raw != "" {
		profile, err := decodeProfile(raw)
		if err != nil {
			errs = append(errs, ErrInvalidProfile)
		} else {
			sess.Profile = profile
		}
	}

	return sess, errors.Join(errs...)
}

// Clear removes the access token, refresh token and profile cookies
func (s *Store) Clear(w http.ResponseWriter) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, ProfileCookie} {
		set(w, name, "", -1, false)
	}
	log.LogTraceWithFields("cookie", "Session cookies cleared", nil)
}

// ForgetProfile deletes the profile cookie and leaves the tokens alone
func (s *Store) ForgetProfile(w http.ResponseWriter) {
	set(w, ProfileCookie, "", -1, false)
}

// SetState stores the CSRF state for the duration of one login attempt
func (s *Store) SetState(w http.ResponseWriter, state string) {
	set(w, StateCookie, state, int(StateTTL.Seconds()), true)
}

// TakeState returns the stored state and deletes the cookie whatever the outcome
func (s *Store) TakeState(w http.ResponseWriter, r *http.Request) string {
	state := get(r, StateCookie)
	set(w, StateCookie, "", -1, true)
	return state
}

func set(w http.ResponseWriter, name, value string, maxAge int, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: httpOnly,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
	})
}

func get(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func encodeProfile(profile *idp.UserProfile) (string, error) {
	data, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("encoding profile: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeProfile(value string) (*idp.UserProfile, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	var profile idp.UserProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, errors.New("profile has no id")
	}
	return &profile, nil
}
