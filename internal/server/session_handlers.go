package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dgellow/melody/internal/idp"
	jsonwriter "github.com/dgellow/melody/internal/json"
	"github.com/dgellow/melody/internal/log"
	"github.com/dgellow/melody/internal/pages"
	"github.com/dgellow/melody/internal/session"
)

// Renderer writes the HTML pages
type Renderer interface {
	RenderEntry(w http.ResponseWriter, data pages.EntryData)
	RenderDashboard(w http.ResponseWriter, data pages.DashboardData)
}

// APIClient performs bearer-authenticated Web API reads
type APIClient interface {
	Get(ctx context.Context, accessToken, apiPath string) (*idp.APIResponse, error)
}

// SessionHandlers serves the pages and endpoints that work on an active session
type SessionHandlers struct {
	renderer        Renderer
	api             APIClient
	refreshInterval time.Duration
	urls            URLs
}

// NewSessionHandlers creates session handlers with dependency injection
func NewSessionHandlers(renderer Renderer, api APIClient, refreshInterval time.Duration, urls URLs) *SessionHandlers {
	return &SessionHandlers{
		renderer:        renderer,
		api:             api,
		refreshInterval: refreshInterval,
		urls:            urls,
	}
}

// EntryHandler renders the entry page with the message for ?error=
func (h *SessionHandlers) EntryHandler(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("error")
	h.renderer.RenderEntry(w, pages.EntryData{
		Reason:    reason,
		Message:   pages.EntryMessage(reason),
		LoginPath: LoginPath,
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

// TokenHandler returns the current access token, refreshed if needed.
// It runs behind RequireSession in API mode.
func (h *SessionHandlers) TokenHandler(w http.ResponseWriter, r *http.Request) {
	active, ok := session.ActiveFrom(r.Context())
	if !ok {
		session.Reject(w, r, session.ModeAPI, h.urls.Entry, session.ReasonNotAuthenticated)
		return
	}

	log.LogTraceWithFields("token", "Serving access token", map[string]any{
		"refreshed": active.Refreshed,
	})
	if err := jsonwriter.Write(w, tokenResponse{AccessToken: active.AccessToken}); err != nil {
		log.LogErrorWithFields("token", "Failed to write token response", map[string]any{
			"error": err.Error(),
		})
	}
}

// DashboardHandler renders the protected page. It runs behind RequireSession
// in page mode.
func (h *SessionHandlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	active, ok := session.ActiveFrom(r.Context())
	if !ok {
		session.RedirectWithReason(w, r, h.urls.Entry, session.ReasonNotAuthenticated)
		return
	}

	if active.ProfileErr != nil {
		log.LogWarnWithFields("dashboard", "Stored profile is unreadable", map[string]any{
			"error": active.ProfileErr.Error(),
		})
		session.RedirectWithReason(w, r, h.urls.Entry, session.ReasonInvalidUserData)
		return
	}

	data := pages.DashboardData{
		AccessToken:           active.AccessToken,
		TokenPath:             TokenPath + "?" + session.RefreshParam + "=1",
		APIPath:               APIPrefix,
		LogoutPath:            LogoutPath,
		ExpiredURL:            h.urls.Expired,
		RefreshIntervalMillis: h.refreshInterval.Milliseconds(),
	}
	if p := active.Profile; p != nil {
		data.DisplayName = p.DisplayName
		data.Email = p.Email
		data.AvatarURL = p.AvatarURL()
	}
	h.renderer.RenderDashboard(w, data)
}

// APIHandler forwards a GET to the Spotify Web API with the session's access
// token and relays the answer verbatim. It runs behind RequireSession in API mode.
func (h *SessionHandlers) APIHandler(w http.ResponseWriter, r *http.Request) {
	active, ok := session.ActiveFrom(r.Context())
	if !ok {
		session.Reject(w, r, session.ModeAPI, h.urls.Entry, session.ReasonNotAuthenticated)
		return
	}

	apiPath := mux.Vars(r)["path"]
	if apiPath == "" {
		jsonwriter.WriteNotFound(w, "Missing API path")
		return
	}
	if r.URL.RawQuery != "" {
		apiPath += "?" + r.URL.RawQuery
	}

	resp, err := h.api.Get(r.Context(), active.AccessToken, apiPath)
	if err != nil {
		log.LogWarnWithFields("api", "Web API request failed", map[string]any{
			"path":  mux.Vars(r)["path"],
			"error": err.Error(),
		})
		jsonwriter.WriteBadGateway(w, "Spotify API request failed")
		return
	}

	copyResponseHeaders(w.Header(), resp.ContentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}
