package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgellow/melody/internal/cookie"
	"github.com/dgellow/melody/internal/storage"
	"github.com/dgellow/melody/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireSession(t *testing.T) {
	fake := testutil.NewFakeSpotify(t)
	fake.FailRefresh(http.StatusBadRequest)
	guard := newTestGuard(fake, storage.NewMemoryCoordinator())

	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active, ok := ActiveFrom(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte(active.AccessToken))
	})

	tests := []struct {
		name         string
		mode         Mode
		cookies      map[string]string
		wantStatus   int
		wantLocation string
		wantReason   string
		wantBody     string
	}{
		{
			name:       "page_with_session",
			mode:       ModePage,
			cookies:    map[string]string{cookie.AccessTokenCookie: "AT1"},
			wantStatus: http.StatusOK,
			wantBody:   "AT1",
		},
		{
			name:         "page_not_authenticated",
			mode:         ModePage,
			wantStatus:   http.StatusFound,
			wantLocation: "/?error=not_authenticated",
		},
		{
			name:         "page_session_expired",
			mode:         ModePage,
			cookies:      map[string]string{cookie.RefreshTokenCookie: "RT1"},
			wantStatus:   http.StatusFound,
			wantLocation: "/?error=session_expired",
		},
		{
			name:       "api_not_authenticated",
			mode:       ModeAPI,
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonNotAuthenticated,
		},
		{
			name:       "api_session_expired",
			mode:       ModeAPI,
			cookies:    map[string]string{cookie.RefreshTokenCookie: "RT1"},
			wantStatus: http.StatusUnauthorized,
			wantReason: ReasonSessionExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireSession(guard, tt.mode, "/")(protected)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, requestWith(tt.cookies))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantLocation != "" {
				assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
			}
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantReason != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantReason, body["error"])
				assert.NotEmpty(t, body["message"])
			}
		})
	}
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Failed to refresh token", Message(ReasonSessionExpired))
	assert.Equal(t, "Not authenticated", Message(ReasonNotAuthenticated))
	assert.Equal(t, "Authentication failed", Message("something_else"))
}
