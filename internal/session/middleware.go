package session

import (
	"net/http"

	jsonwriter "github.com/dgellow/melody/internal/json"
	"github.com/dgellow/melody/internal/log"
	"github.com/dgellow/melody/internal/urlutil"
)

// Mode selects how RequireSession answers unauthenticated requests
type Mode int

const (
	// ModePage redirects to the entry page with ?error=<reason>
	ModePage Mode = iota
	// ModeAPI answers 401 with a JSON error body
	ModeAPI
)

var reasonMessages = map[string]string{
	ReasonSessionExpired:   "Failed to refresh token",
	ReasonNotAuthenticated: "Not authenticated",
	ReasonInvalidUserData:  "Stored user data is invalid",
}

// Message is the short human-readable text for a reason in API answers
func Message(reason string) string {
	if msg, ok := reasonMessages[reason]; ok {
		return msg
	}
	return "Authentication failed"
}

// RequireSession runs the guard before next and stores the active session
// in the request context.
func RequireSession(guard *Guard, mode Mode, entryPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			active, err := guard.Ensure(r.Context(), w, r)
			if err != nil {
				reason := ReasonOf(err)
				log.LogDebugWithFields("guard", "Request rejected", map[string]any{
					"path":   r.URL.Path,
					"reason": reason,
				})
				Reject(w, r, mode, entryPath, reason)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActive(r.Context(), active)))
		})
	}
}

// Reject answers an unauthenticated request according to mode
func Reject(w http.ResponseWriter, r *http.Request, mode Mode, entryPath, reason string) {
	if mode == ModeAPI {
		jsonwriter.WriteUnauthorized(w, reason, Message(reason))
		return
	}
	RedirectWithReason(w, r, entryPath, reason)
}

// RedirectWithReason sends the browser to target?error=<reason>
func RedirectWithReason(w http.ResponseWriter, r *http.Request, target, reason string) {
	location, err := urlutil.WithQuery(target, "error", reason)
	if err != nil {
		location = "/"
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}
