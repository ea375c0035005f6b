package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// ConfigurationError reports a missing or invalid setting. Startup aborts on it.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := requireURL("server.baseURL", config.Server.BaseURL); err != nil {
		return err
	}
	if config.Server.Addr == "" {
		return &ConfigurationError{Field: "server.addr", Message: "is required"}
	}

	sp := config.Spotify
	if sp.ClientID == "" {
		return &ConfigurationError{Field: "spotify.clientId", Message: "is required"}
	}
	if sp.ClientSecret == "" {
		return &ConfigurationError{Field: "spotify.clientSecret", Message: "is required"}
	}
	if err := requireURL("spotify.redirectUri", sp.RedirectURI); err != nil {
		return err
	}
	if len(sp.Scopes) == 0 {
		return &ConfigurationError{Field: "spotify.scopes", Message: "at least one scope is required"}
	}
	for _, scope := range sp.Scopes {
		if scope == "" || strings.ContainsAny(scope, " \t") {
			return &ConfigurationError{Field: "spotify.scopes", Message: fmt.Sprintf("invalid scope %q", scope)}
		}
	}
	for field, value := range map[string]string{
		"spotify.authorizationUrl": sp.AuthorizationURL,
		"spotify.tokenUrl":         sp.TokenURL,
		"spotify.apiBaseUrl":       sp.APIBaseURL,
	} {
		if value == "" {
			continue
		}
		if err := requireURL(field, value); err != nil {
			return err
		}
	}
	if sp.Timeout < 0 {
		return &ConfigurationError{Field: "spotify.timeout", Message: "cannot be negative"}
	}

	s := config.Session
	if s.RefreshInterval <= 0 {
		return &ConfigurationError{Field: "session.refreshInterval", Message: "must be positive"}
	}
	switch s.ProfileFailure {
	case ProfileFailureAbort, ProfileFailureContinue:
	default:
		return &ConfigurationError{Field: "session.profileFailure", Message: fmt.Sprintf("must be %q or %q, got %q", ProfileFailureAbort, ProfileFailureContinue, s.ProfileFailure)}
	}
	switch s.Coordination {
	case CoordinationMemory:
	case CoordinationRedis:
		if s.RedisAddr == "" {
			return &ConfigurationError{Field: "session.redisAddr", Message: "is required when coordination is redis"}
		}
	default:
		return &ConfigurationError{Field: "session.coordination", Message: fmt.Sprintf("must be %q or %q, got %q", CoordinationMemory, CoordinationRedis, s.Coordination)}
	}
	if s.ResultTTL < 0 {
		return &ConfigurationError{Field: "session.resultTtl", Message: "cannot be negative"}
	}

	return nil
}

func requireURL(field, value string) error {
	if value == "" {
		return &ConfigurationError{Field: field, Message: "is required"}
	}
	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ConfigurationError{Field: field, Message: fmt.Sprintf("must be an absolute http(s) URL, got %q", value)}
	}
	return nil
}

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, message string) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: message})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", fmt.Sprintf("invalid JSON: %v", err))
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", fmt.Sprintf("version field is required. Hint: Add \"version\": %q", Version))
	} else if version != Version {
		result.addError("version", fmt.Sprintf("unsupported version '%s' - use '%s'", version, Version))
	}

	if err := validateRawConfig(rawConfig); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			result.addError(cfgErr.Field, cfgErr.Message)
		} else {
			result.addError("", err.Error())
		}
	}

	validateSections(rawConfig, result)
	return result, nil
}

func validateSections(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		result.addError("server", "server field is required and must be an object")
	} else if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"https://melody.example.com\"")
	}

	spotify, ok := rawConfig["spotify"].(map[string]any)
	if !ok {
		result.addError("spotify", "spotify field is required and must be an object")
	} else {
		for _, field := range []string{"clientId", "clientSecret", "redirectUri"} {
			if _, ok := spotify[field]; !ok {
				result.addError("spotify."+field, field+" is required")
			}
		}
		if scopes, ok := spotify["scopes"]; ok {
			if _, isList := scopes.([]any); !isList {
				result.addError("spotify.scopes", "scopes must be an array of strings")
			}
		}
		checkDuration(spotify, "spotify", "timeout", result)
	}

	if session, ok := rawConfig["session"].(map[string]any); ok {
		checkDuration(session, "session", "refreshInterval", result)
		checkDuration(session, "session", "resultTtl", result)
		if policy, ok := session["profileFailure"].(string); ok {
			switch ProfileFailurePolicy(policy) {
			case ProfileFailureAbort, ProfileFailureContinue:
			default:
				result.addError("session.profileFailure", fmt.Sprintf("profileFailure must be 'abort' or 'continue', got '%s'", policy))
			}
		}
		if kind, ok := session["coordination"].(string); ok {
			switch CoordinationKind(kind) {
			case CoordinationMemory:
			case CoordinationRedis:
				if _, ok := session["redisAddr"]; !ok {
					result.addError("session.redisAddr", "redisAddr is required when coordination is 'redis'")
				}
			default:
				result.addError("session.coordination", fmt.Sprintf("coordination must be 'memory' or 'redis', got '%s'", kind))
			}
		}
	}
}

func checkDuration(section map[string]any, prefix, name string, result *ValidationResult) {
	raw, ok := section[name]
	if !ok {
		return
	}
	s, ok := raw.(string)
	if !ok {
		result.addError(prefix+"."+name, name+" must be a duration string like \"30s\"")
		return
	}
	if _, err := parseOptionalDuration(s, name); err != nil {
		result.addError(prefix+"."+name, err.Error())
	}
}

var bashStyleRegex = regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.Warnings = append(result.Warnings, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName),
			})
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			checkBashStyleSyntax(val, joinPath(path, key), result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
