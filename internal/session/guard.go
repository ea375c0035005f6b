package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dgellow/melody/internal/cookie"
	"github.com/dgellow/melody/internal/crypto"
	"github.com/dgellow/melody/internal/idp"
	"github.com/dgellow/melody/internal/log"
	"github.com/dgellow/melody/internal/storage"
	"golang.org/x/sync/singleflight"
)

// TokenRefresher is the part of the token client the guard needs
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, refreshToken string) (*idp.TokenSet, error)
}

// SessionStore is the cookie session the guard validates
type SessionStore interface {
	SessionWriter
	Read(r *http.Request) (cookie.Session, error)
	Clear(w http.ResponseWriter)
}

// GuardOptions tune refresh coordination. Zero values take defaults.
type GuardOptions struct {
	// RefreshTimeout bounds one upstream refresh, independent of the caller
	RefreshTimeout time.Duration
	// LockTTL bounds how long one holder may keep the refresh lock, and how
	// long a waiter waits for it
	LockTTL time.Duration
	// ResultTTL is how long a refresh outcome is shared with late racers
	ResultTTL time.Duration
	// PollInterval is how often a waiter checks for the holder's result
	PollInterval time.Duration
}

// RefreshParam is the query parameter that asks for a refresh ahead of
// expiry, e.g. /token?refresh=1
const RefreshParam = "refresh"

const (
	DefaultRefreshTimeout = 15 * time.Second
	DefaultLockTTL        = 15 * time.Second
	DefaultResultTTL      = 30 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond
)

// Guard validates the cookie session on access and refreshes it when the
// access token is gone but a refresh token remains.
type Guard struct {
	client TokenRefresher
	store  SessionStore
	coord  storage.Coordinator
	group  singleflight.Group
	opts   GuardOptions
}

func NewGuard(client TokenRefresher, store SessionStore, coord storage.Coordinator, opts GuardOptions) *Guard {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = DefaultRefreshTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Guard{client: client, store: store, coord: coord, opts: opts}
}

// Ensure returns the active session, refreshing it if needed. On refresh
// failure the session cookies are cleared and *SessionExpiredError is
// returned; with no tokens at all it returns *NotAuthenticatedError.
//
// A request carrying RefreshParam refreshes even while the access token is
// still valid. If that early refresh fails the current token is kept; the
// session ends only once the access token itself is gone.
func (g *Guard) Ensure(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Active, error) {
	sess, readErr := g.store.Read(r)

	var profileErr error
	if errors.Is(readErr, cookie.ErrInvalidProfile) {
		profileErr = cookie.ErrInvalidProfile
	}

	if sess.HasAccessToken() {
		current := &Active{AccessToken: sess.AccessToken, Profile: sess.Profile, ProfileErr: profileErr}
		if !sess.HasRefreshToken() || !wantsRefresh(r) {
			return current, nil
		}
		ts, err := g.refresh(ctx, sess.RefreshToken)
		if err == nil {
			err = g.store.Write(w, ts, nil)
		}
		if err != nil {
			log.LogWarnWithFields("guard", "Early refresh failed, keeping current access token", map[string]any{
				"error": err.Error(),
			})
			return current, nil
		}
		log.LogDebugWithFields("guard", "Session refreshed early", map[string]any{
			"expiresIn": ts.ExpiresIn,
			"rotated":   ts.RefreshToken != "",
		})
		return &Active{AccessToken: ts.AccessToken, Profile: sess.Profile, ProfileErr: profileErr, Refreshed: true}, nil
	}

	if !sess.HasRefreshToken() {
		if errors.Is(readErr, cookie.ErrInvalidRefreshToken) {
			g.store.Clear(w)
			log.LogWarnWithFields("guard", "Refresh token cookie unreadable, clearing session", nil)
			return nil, &SessionExpiredError{Err: readErr}
		}
		return nil, &NotAuthenticatedError{}
	}

	ts, err := g.refresh(ctx, sess.RefreshToken)
	if err != nil {
		g.store.Clear(w)
		log.LogInfoWithFields("guard", "Session expired, refresh failed", map[string]any{
			"error": err.Error(),
		})
		return nil, &SessionExpiredError{Err: err}
	}

	if err := g.store.Write(w, ts, nil); err != nil {
		g.store.Clear(w)
		return nil, &SessionExpiredError{Err: fmt.Errorf("writing refreshed session: %w", err)}
	}

	log.LogDebugWithFields("guard", "Session refreshed", map[string]any{
		"expiresIn": ts.ExpiresIn,
		"rotated":   ts.RefreshToken != "",
	})
	return &Active{AccessToken: ts.AccessToken, Profile: sess.Profile, ProfileErr: profileErr, Refreshed: true}, nil
}

func wantsRefresh(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(RefreshParam))
	return err == nil && v
}

// refresh collapses concurrent refreshes of the same token in this process.
// The shared call is detached from any one caller's cancellation.
func (g *Guard) refresh(ctx context.Context, refreshToken string) (*idp.TokenSet, error) {
	key := crypto.Fingerprint(refreshToken)

	ch := g.group.DoChan(key, func() (any, error) {
		return g.coordinatedRefresh(context.WithoutCancel(ctx), key, refreshToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*idp.TokenSet), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// coordinatedRefresh makes sure one upstream refresh happens per refresh
// token across instances; others reuse the published result. A waiter keeps
// trying the lock, so a holder that fails without publishing, or dies, hands
// over as soon as its lock is released or expires. Waiting is bounded by
// LockTTL, after which the refresh goes upstream regardless.
func (g *Guard) coordinatedRefresh(ctx context.Context, key, refreshToken string) (*idp.TokenSet, error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.opts.LockTTL)
	defer cancel()

	ticker := time.NewTicker(g.opts.PollInterval)
	defer ticker.Stop()

	for {
		res, err := g.coord.Result(waitCtx, key)
		if err == nil {
			return fromResult(res)
		}
		if !errors.Is(err, storage.ErrResultNotFound) {
			if waitCtx.Err() != nil {
				return g.upstreamAfterWait(ctx, key, refreshToken)
			}
			log.LogWarnWithFields("guard", "Refresh results unavailable, refreshing uncoordinated", map[string]any{
				"error": err.Error(),
			})
			return g.upstream(ctx, key, refreshToken, false)
		}

		acquired, err := g.coord.Acquire(waitCtx, key, g.opts.LockTTL)
		if err != nil {
			if waitCtx.Err() != nil {
				return g.upstreamAfterWait(ctx, key, refreshToken)
			}
			log.LogWarnWithFields("guard", "Refresh lock unavailable, refreshing uncoordinated", map[string]any{
				"error": err.Error(),
			})
			return g.upstream(ctx, key, refreshToken, false)
		}
		if acquired {
			return g.refreshHoldingLock(ctx, key, refreshToken)
		}

		select {
		case <-waitCtx.Done():
			return g.upstreamAfterWait(ctx, key, refreshToken)
		case <-ticker.C:
		}
	}
}

func (g *Guard) upstreamAfterWait(ctx context.Context, key, refreshToken string) (*idp.TokenSet, error) {
	log.LogWarnWithFields("guard", "No refresh result from lock holder", map[string]any{
		"waited": g.opts.LockTTL.String(),
	})
	return g.upstream(ctx, key, refreshToken, true)
}

func (g *Guard) refreshHoldingLock(ctx context.Context, key, refreshToken string) (*idp.TokenSet, error) {
	defer func() {
		if err := g.coord.Release(ctx, key); err != nil {
			log.LogWarnWithFields("guard", "Failed to release refresh lock", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	// another holder may have published between our check and the lock
	if res, err := g.coord.Result(ctx, key); err == nil {
		return fromResult(res)
	}
	return g.upstream(ctx, key, refreshToken, true)
}

// upstream calls the provider under its own RefreshTimeout, separate from
// any time spent waiting on another holder.
func (g *Guard) upstream(ctx context.Context, key, refreshToken string, publish bool) (*idp.TokenSet, error) {
	refreshCtx, cancel := context.WithTimeout(ctx, g.opts.RefreshTimeout)
	defer cancel()

	ts, err := g.client.RefreshTokens(refreshCtx, refreshToken)

	if publish {
		if res, ok := toResult(ts, err); ok {
			if putErr := g.coord.PutResult(ctx, key, res, g.opts.ResultTTL); putErr != nil {
				log.LogWarnWithFields("guard", "Failed to publish refresh result", map[string]any{
					"error": putErr.Error(),
				})
			}
		}
	}
	return ts, err
}

// toResult converts an upstream outcome for sharing. Only definitive
// rejections are shared; transport errors and 5xx are left for a retry.
func toResult(ts *idp.TokenSet, err error) (*storage.RefreshResult, bool) {
	if err == nil {
		return &storage.RefreshResult{
			AccessToken:  ts.AccessToken,
			RefreshToken: ts.RefreshToken,
			ExpiresIn:    ts.ExpiresIn,
			Scope:        ts.Scope,
			TokenType:    ts.TokenType,
			StoredAt:     time.Now(),
		}, true
	}

	var refErr *idp.TokenRefreshError
	if errors.As(err, &refErr) && refErr.StatusCode >= 400 && refErr.StatusCode < 500 {
		return &storage.RefreshResult{Failed: true, StatusCode: refErr.StatusCode, StoredAt: time.Now()}, true
	}
	return nil, false
}

func fromResult(res *storage.RefreshResult) (*idp.TokenSet, error) {
	if res.Failed {
		return nil, &idp.TokenRefreshError{
			StatusCode: res.StatusCode,
			Err:        errors.New("refresh rejected for a concurrent request"),
		}
	}
	expiresIn := res.ExpiresIn
	if expiresIn > 0 && !res.StoredAt.IsZero() {
		expiresIn -= int(time.Since(res.StoredAt) / time.Second)
	}
	return &idp.TokenSet{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresIn:    expiresIn,
		Scope:        res.Scope,
		TokenType:    res.TokenType,
	}, nil
}
