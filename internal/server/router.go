package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/dgellow/melody/internal/session"
	"github.com/dgellow/melody/internal/urlutil"
)

const (
	EntryPath     = "/"
	LoginPath     = "/login"
	CallbackPath  = "/callback"
	TokenPath     = "/token"
	DashboardPath = "/dashboard"
	LogoutPath    = "/logout"
	APIPrefix     = "/api/spotify"
	HealthPath    = "/health"
)

// URLs are the absolute redirect targets derived from the public base URL
type URLs struct {
	Entry     string
	Dashboard string
	Expired   string
}

// NewURLs derives the redirect targets from baseURL
func NewURLs(baseURL string) URLs {
	entry := urlutil.MustJoinPath(baseURL)
	if !strings.HasSuffix(entry, "/") {
		entry += "/"
	}
	expired, err := urlutil.WithQuery(entry, "error", session.ReasonSessionExpired)
	if err != nil {
		expired = EntryPath
	}
	return URLs{
		Entry:     entry,
		Dashboard: urlutil.MustJoinPath(baseURL, DashboardPath),
		Expired:   expired,
	}
}

// NewRouter wires every route of the service
func NewRouter(auth *AuthHandlers, sessions *SessionHandlers, guard *session.Guard, urls URLs) http.Handler {
	r := mux.NewRouter()

	page := session.RequireSession(guard, session.ModePage, urls.Entry)
	api := session.RequireSession(guard, session.ModeAPI, urls.Entry)

	r.Handle(HealthPath, NewHealthHandler()).Methods(http.MethodGet)
	r.HandleFunc(EntryPath, sessions.EntryHandler).Methods(http.MethodGet)
	r.HandleFunc(LoginPath, auth.LoginHandler).Methods(http.MethodGet)
	r.HandleFunc(CallbackPath, auth.CallbackHandler).Methods(http.MethodGet)
	r.HandleFunc(LogoutPath, auth.LogoutHandler).Methods(http.MethodGet, http.MethodPost)
	r.Handle(TokenPath, api(http.HandlerFunc(sessions.TokenHandler))).Methods(http.MethodGet)
	r.Handle(DashboardPath, page(http.HandlerFunc(sessions.DashboardHandler))).Methods(http.MethodGet)
	r.Handle(APIPrefix+"/{path:.+}", api(http.HandlerFunc(sessions.APIHandler))).Methods(http.MethodGet)

	return ChainMiddleware(r,
		NewSecurityHeadersMiddleware(),
		NewRecoverMiddleware("melody"),
		NewLoggerMiddleware("http"),
	)
}
