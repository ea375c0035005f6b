package session

import (
	"context"

	"github.com/dgellow/melody/internal/idp"
)

type contextKey string

const activeKey contextKey = "session.active"

// Active is a validated session for the current request
type Active struct {
	AccessToken string
	Profile     *idp.UserProfile
	// ProfileErr is set when the profile cookie exists but is unreadable
	ProfileErr error
	Refreshed  bool
}

// WithActive adds the validated session to the context
func WithActive(ctx context.Context, active *Active) context.Context {
	return context.WithValue(ctx, activeKey, active)
}

// ActiveFrom retrieves the validated session from context
func ActiveFrom(ctx context.Context) (*Active, bool) {
	active, ok := ctx.Value(activeKey).(*Active)
	return active, ok && active != nil
}
