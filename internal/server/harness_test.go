package server

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dgellow/melody/internal/cookie"
	"github.com/dgellow/melody/internal/idp"
	"github.com/dgellow/melody/internal/pages"
	"github.com/dgellow/melody/internal/session"
	"github.com/dgellow/melody/internal/storage"
	"github.com/dgellow/melody/internal/testutil"
	"github.com/stretchr/testify/require"
)

const testRefreshInterval = 55 * time.Minute

type testApp struct {
	fake    *testutil.FakeSpotify
	server  *httptest.Server
	handler http.Handler
	store   *cookie.Store
	urls    URLs
}

type appOptions struct {
	continueWithoutProfile bool
}

// newTestApp starts the full router against a fake Spotify. Cookies are
// written without Secure so a cookie jar sends them over plain http.
func newTestApp(t testing.TB, opts appOptions) *testApp {
	t.Helper()
	t.Setenv("MELODY_ENV", "development")

	app := &testApp{fake: testutil.NewFakeSpotify(t)}
	app.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.handler.ServeHTTP(w, r)
	}))
	t.Cleanup(app.server.Close)

	client := idp.NewClient(idp.Config{
		ClientID:         testutil.FakeClientID,
		ClientSecret:     testutil.FakeClientSecret,
		RedirectURI:      app.server.URL + CallbackPath,
		Scopes:           []string{"user-read-private", "user-read-email"},
		AuthorizationURL: app.fake.AuthURL(),
		TokenURL:         app.fake.TokenURL(),
		APIBaseURL:       app.fake.APIURL(),
		Timeout:          2 * time.Second,
	})

	renderer, err := pages.New("")
	require.NoError(t, err)

	app.store = cookie.NewStore(nil)
	app.urls = NewURLs(app.server.URL)
	guard := session.NewGuard(client, app.store, storage.NewMemoryCoordinator(), session.GuardOptions{
		PollInterval: 10 * time.Millisecond,
	})
	callback := session.NewCallback(client, app.store, session.CallbackOptions{
		ContinueWithoutProfile: opts.continueWithoutProfile,
	})

	app.handler = NewRouter(
		NewAuthHandlers(client, app.store, callback, app.urls),
		NewSessionHandlers(renderer, client, testRefreshInterval, app.urls),
		guard,
		app.urls,
	)
	return app
}

// browser returns a client with a cookie jar that follows redirects
func (app *testApp) browser(t testing.TB) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

// do serves one request in process and returns the recorder
func (app *testApp) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	app.handler.ServeHTTP(rec, req)
	return rec
}

// sessionCookies produces the cookies the store would write for ts and profile
func (app *testApp) sessionCookies(t testing.TB, ts *idp.TokenSet, profile *idp.UserProfile) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, app.store.Write(rec, ts, profile))
	return rec.Result().Cookies()
}

func newRequest(method, target string, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func responseCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

var testProfile = &idp.UserProfile{
	ID:          "user-1",
	DisplayName: "Ada",
	Email:       "ada@example.com",
	Images:      []idp.Image{{URL: "https://i.scdn.co/image/ada", Height: 300, Width: 300}},
}
