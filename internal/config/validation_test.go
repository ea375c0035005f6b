package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{BaseURL: "https://melody.example.com", Addr: ":3000"},
		Spotify: SpotifyConfig{
			ClientID:     "client-123",
			ClientSecret: "secret",
			RedirectURI:  "https://melody.example.com/callback",
			Scopes:       []string{"user-read-private", "user-read-email"},
			Timeout:      10 * time.Second,
		},
		Session: SessionConfig{
			RefreshInterval: 55 * time.Minute,
			ProfileFailure:  ProfileFailureAbort,
			Coordination:    CoordinationMemory,
			ResultTTL:       30 * time.Second,
		},
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing_base_url", mutate: func(c *Config) { c.Server.BaseURL = "" }, expectField: "server.baseURL"},
		{name: "relative_base_url", mutate: func(c *Config) { c.Server.BaseURL = "/app" }, expectField: "server.baseURL"},
		{name: "missing_client_id", mutate: func(c *Config) { c.Spotify.ClientID = "" }, expectField: "spotify.clientId"},
		{name: "missing_client_secret", mutate: func(c *Config) { c.Spotify.ClientSecret = "" }, expectField: "spotify.clientSecret"},
		{name: "bad_redirect_uri", mutate: func(c *Config) { c.Spotify.RedirectURI = "ftp://x/callback" }, expectField: "spotify.redirectUri"},
		{name: "no_scopes", mutate: func(c *Config) { c.Spotify.Scopes = nil }, expectField: "spotify.scopes"},
		{name: "scope_with_space", mutate: func(c *Config) { c.Spotify.Scopes = []string{"a b"} }, expectField: "spotify.scopes"},
		{name: "bad_token_url", mutate: func(c *Config) { c.Spotify.TokenURL = "not a url" }, expectField: "spotify.tokenUrl"},
		{name: "zero_refresh_interval", mutate: func(c *Config) { c.Session.RefreshInterval = 0 }, expectField: "session.refreshInterval"},
		{name: "unknown_profile_policy", mutate: func(c *Config) { c.Session.ProfileFailure = "retry" }, expectField: "session.profileFailure"},
		{name: "redis_without_addr", mutate: func(c *Config) { c.Session.Coordination = CoordinationRedis }, expectField: "session.redisAddr"},
		{name: "unknown_coordination", mutate: func(c *Config) { c.Session.Coordination = "etcd" }, expectField: "session.coordination"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := ValidateConfig(&cfg)
			if tt.expectField == "" {
				assert.NoError(t, err)
				return
			}

			var cfgErr *ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigurationError, got %v", err)
			assert.Equal(t, tt.expectField, cfgErr.Field)
		})
	}
}

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantErrors   []string
		wantWarnings int
	}{
		{
			name: "valid_without_env",
			content: `{"version": "melody/v1",
				"server": {"baseURL": {"$env": "BASE_URL"}},
				"spotify": {"clientId": {"$env": "ID"}, "clientSecret": {"$env": "SECRET"}, "redirectUri": "https://x/callback"}}`,
		},
		{
			name:       "invalid_json",
			content:    `{`,
			wantErrors: []string{""},
		},
		{
			name:       "missing_sections",
			content:    `{"version": "melody/v1"}`,
			wantErrors: []string{"server", "spotify"},
		},
		{
			name: "bash_style_warning",
			content: `{"version": "melody/v1",
				"server": {"baseURL": "${BASE_URL}"},
				"spotify": {"clientId": "id", "clientSecret": {"$env": "SECRET"}, "redirectUri": "https://x/callback"}}`,
			wantWarnings: 1,
		},
		{
			name: "bad_session_values",
			content: `{"version": "melody/v1",
				"server": {"baseURL": "https://x"},
				"spotify": {"clientId": "id", "clientSecret": {"$env": "SECRET"}, "redirectUri": "https://x/callback"},
				"session": {"refreshInterval": "later", "profileFailure": "retry", "coordination": "redis"}}`,
			wantErrors: []string{"session.refreshInterval", "session.profileFailure", "session.redisAddr"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateFile(writeConfig(t, tt.content))
			require.NoError(t, err)

			var paths []string
			for _, e := range result.Errors {
				paths = append(paths, e.Path)
			}
			if len(tt.wantErrors) == 0 {
				assert.True(t, result.IsValid(), "unexpected errors: %v", result.Errors)
			} else {
				assert.ElementsMatch(t, tt.wantErrors, paths)
			}
			assert.Len(t, result.Warnings, tt.wantWarnings)
		})
	}
}
