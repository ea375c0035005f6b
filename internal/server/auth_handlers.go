package server

import (
	"net/http"

	"github.com/dgellow/melody/internal/cookie"
	"github.com/dgellow/melody/internal/crypto"
	jsonwriter "github.com/dgellow/melody/internal/json"
	"github.com/dgellow/melody/internal/log"
	"github.com/dgellow/melody/internal/session"
)

// StateLength is the number of characters in the CSRF state value
const StateLength = 16

// Authorizer builds the provider authorization URL for a state value
type Authorizer interface {
	AuthorizationURL(state string) string
}

// AuthHandlers serves the login, callback and logout endpoints
type AuthHandlers struct {
	authorizer Authorizer
	cookies    *cookie.Store
	callback   *session.Callback
	urls       URLs
}

// NewAuthHandlers creates auth handlers with dependency injection
func NewAuthHandlers(authorizer Authorizer, cookies *cookie.Store, callback *session.Callback, urls URLs) *AuthHandlers {
	return &AuthHandlers{
		authorizer: authorizer,
		cookies:    cookies,
		callback:   callback,
		urls:       urls,
	}
}

// LoginHandler issues a fresh state and sends the browser to Spotify
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	state, err := crypto.GenerateState(StateLength)
	if err != nil {
		log.LogErrorWithFields("auth", "Failed to generate state", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "Failed to start login")
		return
	}

	h.cookies.SetState(w, state)

	log.LogDebugWithFields("auth", "Redirecting to authorization endpoint", nil)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.authorizer.AuthorizationURL(state), http.StatusFound)
}

// CallbackHandler completes the authorization-code flow. The state cookie is
// consumed before anything else so it is gone on every path.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	stored := h.cookies.TakeState(w, r)

	result := h.callback.Run(r.Context(), w, session.CallbackParams{
		Code:        query.Get("code"),
		State:       query.Get("state"),
		Error:       query.Get("error"),
		StoredState: stored,
	})

	if !result.OK() {
		log.LogWarnWithFields("auth", "Authorization callback failed", map[string]any{
			"reason": result.Reason,
			"state":  result.FailedIn.String(),
			"error":  result.Err.Error(),
		})
		session.RedirectWithReason(w, r, h.urls.Entry, result.Reason)
		return
	}

	fields := map[string]any{
		"expiresIn":       result.Tokens.ExpiresIn,
		"hasRefreshToken": result.Tokens.RefreshToken != "",
		"hasProfile":      result.Profile != nil,
	}
	if result.Profile != nil {
		fields["user"] = result.Profile.ID
	}
	log.LogInfoWithFields("auth", "User authenticated", fields)

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.urls.Dashboard, http.StatusFound)
}

// LogoutHandler clears the session cookies
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.cookies.Clear(w)
	log.LogDebugWithFields("auth", "Session cleared", nil)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.urls.Entry, http.StatusFound)
}
