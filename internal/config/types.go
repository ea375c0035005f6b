package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Version is the only config file version this build understands
const Version = "melody/v1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// ProfileFailurePolicy decides what the callback does when the profile
// fetch fails after a successful code exchange.
type ProfileFailurePolicy string

const (
	ProfileFailureAbort    ProfileFailurePolicy = "abort"
	ProfileFailureContinue ProfileFailurePolicy = "continue"
)

// CoordinationKind selects the backend that serializes token refreshes
type CoordinationKind string

const (
	CoordinationMemory CoordinationKind = "memory"
	CoordinationRedis  CoordinationKind = "redis"
)

const (
	DefaultAddr            = ":3000"
	DefaultRefreshInterval = 55 * time.Minute
	DefaultHTTPTimeout     = 10 * time.Second
	DefaultResultTTL       = 30 * time.Second
	DefaultServiceName     = "melody"
)

// DefaultScopes are requested when none are configured
var DefaultScopes = []string{"user-read-private", "user-read-email"}

// ServerConfig is the HTTP surface
type ServerConfig struct {
	BaseURL      string `json:"baseURL"`
	Addr         string `json:"addr"`
	TemplatesDir string `json:"templatesDir,omitempty"`
}

// SpotifyConfig holds the OAuth client registration and provider endpoints.
// Empty endpoint URLs fall back to Spotify's public endpoints.
type SpotifyConfig struct {
	ClientID         string        `json:"clientId"`
	ClientSecret     Secret        `json:"clientSecret"`
	RedirectURI      string        `json:"redirectUri"`
	Scopes           []string      `json:"scopes"`
	AuthorizationURL string        `json:"authorizationUrl,omitempty"`
	TokenURL         string        `json:"tokenUrl,omitempty"`
	APIBaseURL       string        `json:"apiBaseUrl,omitempty"`
	Timeout          time.Duration `json:"timeout"`
}

// SessionConfig controls cookie sessions and refresh behavior
type SessionConfig struct {
	RefreshInterval time.Duration        `json:"refreshInterval"`
	ProfileFailure  ProfileFailurePolicy `json:"profileFailure"`
	CookieKey       Secret               `json:"cookieKey,omitempty"`
	Coordination    CoordinationKind     `json:"coordination"`
	RedisAddr       string               `json:"redisAddr,omitempty"`
	ResultTTL       time.Duration        `json:"resultTtl"`
}

// TelemetryConfig enables OTLP trace export when an endpoint is set
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlpEndpoint,omitempty"`
	ServiceName  string `json:"serviceName,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Server    ServerConfig    `json:"server"`
	Spotify   SpotifyConfig   `json:"spotify"`
	Session   SessionConfig   `json:"session"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}

	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseOptionalValue(raw json.RawMessage, name string) (string, error) {
	if raw == nil {
		return "", nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return "", fmt.Errorf("parsing %s: %w", name, err)
	}
	return value, nil
}

func parseOptionalDuration(raw string, name string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return d, nil
}
