// Package refresher is a client library for agents other than the browser
// page: it keeps a melody session alive by calling the /token endpoint on a
// timer, the way the dashboard script does. The server never imports it.
package refresher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgellow/melody/internal/ioutil"
	"github.com/dgellow/melody/internal/log"
)

// ErrSessionExpired is returned when the token endpoint answers 401
var ErrSessionExpired = errors.New("session expired")

// Options configure callbacks. Both are optional.
type Options struct {
	// OnToken receives every access token obtained
	OnToken func(accessToken string)
	// OnExpired is called once when the session can no longer be refreshed.
	// The loop stops afterwards.
	OnExpired func(err error)
}

// Refresher periodically asks the token endpoint for a current access token,
// the way the dashboard page does in the browser. The HTTP client must carry
// the session cookies, typically through a cookie jar.
type Refresher struct {
	endpoint string
	client   *http.Client
	interval time.Duration
	opts     Options

	mu       sync.Mutex
	inflight context.CancelFunc
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// New creates a refresher for the given token endpoint URL
func New(endpoint string, client *http.Client, interval time.Duration, opts Options) *Refresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Refresher{
		endpoint: endpoint,
		client:   client,
		interval: interval,
		opts:     opts,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the refresh loop in a goroutine
func (r *Refresher) Start(ctx context.Context) {
	log.LogDebugWithFields("refresher", "Starting token refresher", map[string]any{
		"interval": r.interval.String(),
	})
	go r.run(ctx)
}

// Stop ends the loop, aborting any request in flight, and waits for it
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
		r.mu.Lock()
		if r.inflight != nil {
			r.inflight()
		}
		r.mu.Unlock()
	})
	<-r.doneChan
}

// Done is closed when the loop has exited
func (r *Refresher) Done() <-chan struct{} {
	return r.doneChan
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.doneChan)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := r.tick(ctx); expired {
				return
			}
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick performs one scheduled refresh and reports whether the loop must end
func (r *Refresher) tick(ctx context.Context) bool {
	reqCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	select {
	case <-r.stopChan:
		r.mu.Unlock()
		cancel()
		return true
	default:
	}
	r.inflight = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight = nil
		r.mu.Unlock()
		cancel()
	}()

	_, err := r.RefreshNow(reqCtx)
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSessionExpired):
		log.LogInfoWithFields("refresher", "Session expired, stopping refresher", map[string]any{
			"error": err.Error(),
		})
		if r.opts.OnExpired != nil {
			r.opts.OnExpired(err)
		}
		return true
	case errors.Is(err, context.Canceled):
		return false
	default:
		log.LogWarnWithFields("refresher", "Token refresh failed, will retry on next tick", map[string]any{
			"error": err.Error(),
		})
		return false
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RefreshNow asks the token endpoint once. A 401 yields ErrSessionExpired.
func (r *Refresher) RefreshNow(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body tokenResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("decoding token response: %w", err)
		}
		if body.AccessToken == "" {
			return "", errors.New("token response has no access_token")
		}
		if r.opts.OnToken != nil {
			r.opts.OnToken(body.AccessToken)
		}
		return body.AccessToken, nil

	case http.StatusUnauthorized:
		var body errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSessionExpired, body.Error)
		}
		return "", ErrSessionExpired

	default:
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, ioutil.ReadErrorBody(resp.Body))
	}
}
