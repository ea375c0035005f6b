package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, &ConfigurationError{Field: "version", Message: "config version is required"}
	}
	if version != Version {
		return Config{}, &ConfigurationError{Field: "version", Message: fmt.Sprintf("unsupported config version: %s", version)}
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, err
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&config)
	if err := ValidateConfig(&config); err != nil {
		return Config{}, err
	}

	return config, nil
}

// validateRawConfig rejects inline secrets before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	secrets := []struct {
		section string
		name    string
	}{
		{"spotify", "clientSecret"},
		{"session", "cookieKey"},
	}

	for _, s := range secrets {
		section, ok := rawConfig[s.section].(map[string]any)
		if !ok {
			continue
		}
		value, exists := section[s.name]
		if !exists {
			continue
		}
		field := s.section + "." + s.name
		if _, isString := value.(string); isString {
			return &ConfigurationError{Field: field, Message: "must use environment variable reference for security"}
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return &ConfigurationError{Field: field, Message: `must use {"$env": "VAR_NAME"} format`}
			}
		}
	}
	return nil
}

type envConfig struct {
	ClientID        string        `env:"SPOTIFY_CLIENT_ID"`
	ClientSecret    string        `env:"SPOTIFY_CLIENT_SECRET"`
	RedirectURI     string        `env:"SPOTIFY_REDIRECT_URI"`
	Scopes          []string      `env:"SPOTIFY_SCOPES"            envSeparator:" " envDefault:"user-read-private user-read-email"`
	AuthURL         string        `env:"SPOTIFY_AUTH_URL"`
	TokenURL        string        `env:"SPOTIFY_TOKEN_URL"`
	APIBaseURL      string        `env:"SPOTIFY_API_URL"`
	HTTPTimeout     time.Duration `env:"MELODY_HTTP_TIMEOUT"       envDefault:"10s"`
	BaseURL         string        `env:"BASE_URL"`
	Addr            string        `env:"MELODY_ADDR"               envDefault:":3000"`
	TemplatesDir    string        `env:"MELODY_TEMPLATES_DIR"`
	RefreshInterval time.Duration `env:"MELODY_REFRESH_INTERVAL"   envDefault:"55m"`
	ProfileFailure  string        `env:"MELODY_PROFILE_FAILURE"    envDefault:"abort"`
	CookieKey       string        `env:"MELODY_COOKIE_KEY"`
	Coordination    string        `env:"MELODY_COORDINATION"       envDefault:"memory"`
	RedisAddr       string        `env:"MELODY_REDIS_ADDR"`
	ResultTTL       time.Duration `env:"MELODY_REFRESH_RESULT_TTL" envDefault:"30s"`
	OTLPEndpoint    string        `env:"MELODY_OTEL_ENDPOINT"`
	ServiceName     string        `env:"OTEL_SERVICE_NAME"         envDefault:"melody"`
}

// LoadFromEnv builds the config from process environment variables
func LoadFromEnv() (Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return Config{}, &ConfigurationError{Field: "env", Message: err.Error()}
	}

	config := Config{
		Server: ServerConfig{
			BaseURL:      raw.BaseURL,
			Addr:         raw.Addr,
			TemplatesDir: raw.TemplatesDir,
		},
		Spotify: SpotifyConfig{
			ClientID:         raw.ClientID,
			ClientSecret:     Secret(raw.ClientSecret),
			RedirectURI:      raw.RedirectURI,
			Scopes:           raw.Scopes,
			AuthorizationURL: raw.AuthURL,
			TokenURL:         raw.TokenURL,
			APIBaseURL:       raw.APIBaseURL,
			Timeout:          raw.HTTPTimeout,
		},
		Session: SessionConfig{
			RefreshInterval: raw.RefreshInterval,
			ProfileFailure:  ProfileFailurePolicy(raw.ProfileFailure),
			CookieKey:       Secret(raw.CookieKey),
			Coordination:    CoordinationKind(raw.Coordination),
			RedisAddr:       raw.RedisAddr,
			ResultTTL:       raw.ResultTTL,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: raw.OTLPEndpoint,
			ServiceName:  raw.ServiceName,
		},
	}

	applyDefaults(&config)
	if err := ValidateConfig(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Addr == "" {
		config.Server.Addr = DefaultAddr
	}
	if len(config.Spotify.Scopes) == 0 {
		config.Spotify.Scopes = append([]string(nil), DefaultScopes...)
	}
	if config.Spotify.Timeout == 0 {
		config.Spotify.Timeout = DefaultHTTPTimeout
	}
	if config.Session.RefreshInterval == 0 {
		config.Session.RefreshInterval = DefaultRefreshInterval
	}
	if config.Session.ProfileFailure == "" {
		config.Session.ProfileFailure = ProfileFailureAbort
	}
	if config.Session.Coordination == "" {
		config.Session.Coordination = CoordinationMemory
	}
	if config.Session.ResultTTL == 0 {
		config.Session.ResultTTL = DefaultResultTTL
	}
	if config.Telemetry.ServiceName == "" {
		config.Telemetry.ServiceName = DefaultServiceName
	}
}

// DefaultFile returns a starter config file that reads every secret from the
// environment.
func DefaultFile() map[string]any {
	return map[string]any{
		"version": Version,
		"server": map[string]any{
			"baseURL": map[string]string{"$env": "BASE_URL"},
			"addr":    DefaultAddr,
		},
		"spotify": map[string]any{
			"clientId":     map[string]string{"$env": "SPOTIFY_CLIENT_ID"},
			"clientSecret": map[string]string{"$env": "SPOTIFY_CLIENT_SECRET"},
			"redirectUri":  map[string]string{"$env": "SPOTIFY_REDIRECT_URI"},
			"scopes":       DefaultScopes,
			"timeout":      DefaultHTTPTimeout.String(),
		},
		"session": map[string]any{
			"refreshInterval": DefaultRefreshInterval.String(),
			"profileFailure":  string(ProfileFailureAbort),
			"coordination":    string(CoordinationMemory),
		},
	}
}
