package config

import (
	"encoding/json"
)

// UnmarshalJSON resolves env references for the server section
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		BaseURL      json.RawMessage `json:"baseURL"`
		Addr         json.RawMessage `json:"addr"`
		TemplatesDir string          `json:"templatesDir,omitempty"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if s.BaseURL, err = parseOptionalValue(raw.BaseURL, "baseURL"); err != nil {
		return err
	}
	if s.Addr, err = parseOptionalValue(raw.Addr, "addr"); err != nil {
		return err
	}
	s.TemplatesDir = raw.TemplatesDir
	return nil
}

// UnmarshalJSON resolves env references and durations for the spotify section
func (c *SpotifyConfig) UnmarshalJSON(data []byte) error {
	type rawSpotify struct {
		ClientID         json.RawMessage `json:"clientId"`
		ClientSecret     json.RawMessage `json:"clientSecret"`
		RedirectURI      json.RawMessage `json:"redirectUri"`
		Scopes           []string        `json:"scopes"`
		AuthorizationURL string          `json:"authorizationUrl,omitempty"`
		TokenURL         string          `json:"tokenUrl,omitempty"`
		APIBaseURL       string          `json:"apiBaseUrl,omitempty"`
		Timeout          string          `json:"timeout,omitempty"`
	}

	var raw rawSpotify
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Scopes = raw.Scopes
	c.AuthorizationURL = raw.AuthorizationURL
	c.TokenURL = raw.TokenURL
	c.APIBaseURL = raw.APIBaseURL

	var err error
	if c.Timeout, err = parseOptionalDuration(raw.Timeout, "timeout"); err != nil {
		return err
	}
	if c.ClientID, err = parseOptionalValue(raw.ClientID, "clientId"); err != nil {
		return err
	}
	if c.RedirectURI, err = parseOptionalValue(raw.RedirectURI, "redirectUri"); err != nil {
		return err
	}

	secret, err := parseOptionalValue(raw.ClientSecret, "clientSecret")
	if err != nil {
		return err
	}
	c.ClientSecret = Secret(secret)
	return nil
}

// UnmarshalJSON resolves env references and durations for the session section
func (c *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSession struct {
		RefreshInterval string               `json:"refreshInterval,omitempty"`
		ProfileFailure  ProfileFailurePolicy `json:"profileFailure,omitempty"`
		CookieKey       json.RawMessage      `json:"cookieKey,omitempty"`
		Coordination    CoordinationKind     `json:"coordination,omitempty"`
		RedisAddr       json.RawMessage      `json:"redisAddr,omitempty"`
		ResultTTL       string               `json:"resultTtl,omitempty"`
	}

	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.ProfileFailure = raw.ProfileFailure
	c.Coordination = raw.Coordination

	var err error
	if c.RefreshInterval, err = parseOptionalDuration(raw.RefreshInterval, "refreshInterval"); err != nil {
		return err
	}
	if c.ResultTTL, err = parseOptionalDuration(raw.ResultTTL, "resultTtl"); err != nil {
		return err
	}
	if c.RedisAddr, err = parseOptionalValue(raw.RedisAddr, "redisAddr"); err != nil {
		return err
	}

	key, err := parseOptionalValue(raw.CookieKey, "cookieKey")
	if err != nil {
		return err
	}
	c.CookieKey = Secret(key)
	return nil
}
