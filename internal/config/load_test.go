package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_SPOTIFY_SECRET", `"quoted-secret"`)
	t.Setenv("TEST_COOKIE_KEY", "cookie-key")

	path := writeConfig(t, `{
		"version": "melody/v1",
		"server": {"baseURL": "https://melody.example.com", "addr": ":8080"},
		"spotify": {
			"clientId": "client-123",
			"clientSecret": {"$env": "TEST_SPOTIFY_SECRET"},
			"redirectUri": "https://melody.example.com/callback",
			"scopes": ["user-read-private"],
			"timeout": "5s"
		},
		"session": {
			"refreshInterval": "30m",
			"profileFailure": "continue",
			"cookieKey": {"$env": "TEST_COOKIE_KEY"}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://melody.example.com", cfg.Server.BaseURL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "client-123", cfg.Spotify.ClientID)
	assert.Equal(t, Secret("quoted-secret"), cfg.Spotify.ClientSecret)
	assert.Equal(t, []string{"user-read-private"}, cfg.Spotify.Scopes)
	assert.Equal(t, 5*time.Second, cfg.Spotify.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Session.RefreshInterval)
	assert.Equal(t, ProfileFailureContinue, cfg.Session.ProfileFailure)
	assert.Equal(t, Secret("cookie-key"), cfg.Session.CookieKey)

	// defaults
	assert.Equal(t, CoordinationMemory, cfg.Session.Coordination)
	assert.Equal(t, DefaultResultTTL, cfg.Session.ResultTTL)
	assert.Equal(t, DefaultServiceName, cfg.Telemetry.ServiceName)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		expectError string
	}{
		{
			name:        "missing_version",
			content:     `{"server": {}}`,
			expectError: "config version is required",
		},
		{
			name:        "unsupported_version",
			content:     `{"version": "v0.0.1-DEV_EDITION"}`,
			expectError: "unsupported config version",
		},
		{
			name:        "inline_client_secret",
			content:     `{"version": "melody/v1", "spotify": {"clientSecret": "plain"}}`,
			expectError: "spotify.clientSecret: must use environment variable reference",
		},
		{
			name: "unset_env_reference",
			content: `{"version": "melody/v1",
				"server": {"baseURL": "https://melody.example.com"},
				"spotify": {"clientId": "id", "clientSecret": {"$env": "MELODY_TEST_UNSET_VAR"}, "redirectUri": "https://melody.example.com/callback"}}`,
			expectError: "environment variable MELODY_TEST_UNSET_VAR not set",
		},
		{
			name:        "bad_duration",
			content:     `{"version": "melody/v1", "session": {"refreshInterval": "soon"}}`,
			expectError: "parsing refreshInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "client-123")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("SPOTIFY_REDIRECT_URI", "http://localhost:3000/callback")
	t.Setenv("BASE_URL", "http://localhost:3000")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "client-123", cfg.Spotify.ClientID)
	assert.Equal(t, Secret("secret"), cfg.Spotify.ClientSecret)
	assert.Equal(t, []string{"user-read-private", "user-read-email"}, cfg.Spotify.Scopes)
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 55*time.Minute, cfg.Session.RefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.Spotify.Timeout)
	assert.Equal(t, ProfileFailureAbort, cfg.Session.ProfileFailure)
	assert.Equal(t, CoordinationMemory, cfg.Session.Coordination)
}

func TestLoadFromEnv_ScopesAndRedis(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "client-123")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("SPOTIFY_REDIRECT_URI", "http://localhost:3000/callback")
	t.Setenv("BASE_URL", "http://localhost:3000")
	t.Setenv("SPOTIFY_SCOPES", "user-read-email playlist-read-private")
	t.Setenv("MELODY_COORDINATION", "redis")
	t.Setenv("MELODY_REDIS_ADDR", "localhost:6379")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"user-read-email", "playlist-read-private"}, cfg.Spotify.Scopes)
	assert.Equal(t, CoordinationRedis, cfg.Session.Coordination)
	assert.Equal(t, "localhost:6379", cfg.Session.RedisAddr)
}

func TestLoadFromEnv_MissingClientID(t *testing.T) {
	t.Setenv("SPOTIFY_CLIENT_ID", "")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")
	t.Setenv("SPOTIFY_REDIRECT_URI", "http://localhost:3000/callback")
	t.Setenv("BASE_URL", "http://localhost:3000")

	_, err := LoadFromEnv()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "spotify.clientId", cfgErr.Field)
}
