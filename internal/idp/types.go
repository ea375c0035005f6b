package idp

import "time"

// Config is the immutable client configuration. Empty endpoint URLs fall
// back to Spotify's public endpoints.
type Config struct {
	ClientID         string
	ClientSecret     string
	RedirectURI      string
	Scopes           []string
	AuthorizationURL string
	TokenURL         string
	APIBaseURL       string
	Timeout          time.Duration
}

// TokenSet is the result of a code exchange or a refresh.
// RefreshToken is empty when the provider did not issue one.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Scope        string
	TokenType    string
}

// Image is one profile picture rendition
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height,omitempty"`
	Width  int    `json:"width,omitempty"`
}

// UserProfile is the subset of the Spotify /v1/me response the service keeps
type UserProfile struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Images      []Image `json:"images,omitempty"`
	Country     string  `json:"country,omitempty"`
	Product     string  `json:"product,omitempty"`
}

// AvatarURL returns the first image URL, if any
func (p *UserProfile) AvatarURL() string {
	if p == nil || len(p.Images) == 0 {
		return ""
	}
	return p.Images[0].URL
}

// APIResponse is a Web API answer passed through verbatim
type APIResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}
