package internal

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dgellow/melody/internal/config"
	"github.com/dgellow/melody/internal/cookie"
	"github.com/dgellow/melody/internal/crypto"
	"github.com/dgellow/melody/internal/idp"
	"github.com/dgellow/melody/internal/log"
	"github.com/dgellow/melody/internal/pages"
	"github.com/dgellow/melody/internal/server"
	"github.com/dgellow/melody/internal/session"
	"github.com/dgellow/melody/internal/storage"
	"github.com/dgellow/melody/internal/telemetry"
)

const (
	shutdownTimeout  = 30 * time.Second
	cleanupInterval  = time.Minute
	redisPingTimeout = 5 * time.Second
)

// Melody is the assembled login service
type Melody struct {
	config            config.Config
	handler           http.Handler
	httpServer        *server.HTTPServer
	renderer          *pages.Renderer
	coordinator       storage.Coordinator
	cleanup           *storage.CleanupManager
	shutdownTelemetry func(context.Context) error
}

// NewMelody builds every component from cfg
func NewMelody(ctx context.Context, cfg config.Config, version string) (*Melody, error) {
	log.LogInfoWithFields("melody", "Building application", map[string]any{
		"baseURL":        cfg.Server.BaseURL,
		"coordination":   string(cfg.Session.Coordination),
		"profileFailure": string(cfg.Session.ProfileFailure),
		"sealedCookies":  cfg.Session.CookieKey != "",
	})

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, version)
	if err != nil {
		return nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	coordinator, cleanup, err := setupCoordinator(ctx, cfg.Session)
	if err != nil {
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("failed to setup refresh coordination: %w", err)
	}

	store, err := setupCookieStore(cfg.Session)
	if err != nil {
		_ = coordinator.Close()
		_ = shutdownTelemetry(ctx)
		return nil, err
	}

	renderer, err := pages.New(cfg.Server.TemplatesDir)
	if err != nil {
		_ = coordinator.Close()
		_ = shutdownTelemetry(ctx)
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	client := idp.NewClient(idp.Config{
		ClientID:         cfg.Spotify.ClientID,
		ClientSecret:     string(cfg.Spotify.ClientSecret),
		RedirectURI:      cfg.Spotify.RedirectURI,
		Scopes:           cfg.Spotify.Scopes,
		AuthorizationURL: cfg.Spotify.AuthorizationURL,
		TokenURL:         cfg.Spotify.TokenURL,
		APIBaseURL:       cfg.Spotify.APIBaseURL,
		Timeout:          cfg.Spotify.Timeout,
	})

	guard := session.NewGuard(client, store, coordinator, session.GuardOptions{
		ResultTTL: cfg.Session.ResultTTL,
	})
	callback := session.NewCallback(client, store, session.CallbackOptions{
		ContinueWithoutProfile: cfg.Session.ProfileFailure == config.ProfileFailureContinue,
	})

	urls := server.NewURLs(cfg.Server.BaseURL)
	handler := server.NewRouter(
		server.NewAuthHandlers(client, store, callback, urls),
		server.NewSessionHandlers(renderer, client, cfg.Session.RefreshInterval, urls),
		guard,
		urls,
	)

	return &Melody{
		config:            cfg,
		handler:           handler,
		httpServer:        server.NewHTTPServer(handler, cfg.Server.Addr),
		renderer:          renderer,
		coordinator:       coordinator,
		cleanup:           cleanup,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// Handler returns the fully wired HTTP handler
func (m *Melody) Handler() http.Handler {
	return m.handler
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// server fails, then shuts down gracefully.
func (m *Melody) Run(ctx context.Context) error {
	log.LogInfoWithFields("melody", "Starting application", map[string]any{
		"addr": m.config.Server.Addr,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := m.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := m.renderer.Watch(gctx); err != nil {
			log.LogWarnWithFields("melody", "Template hot reload disabled", map[string]any{
				"error": err.Error(),
			})
		}
		return nil
	})

	if m.cleanup != nil {
		m.cleanup.Start(gctx)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("melody", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return m.httpServer.Stop(shutdownCtx)
	})

	err := g.Wait()
	m.close()

	if err != nil {
		log.LogErrorWithFields("melody", "Application stopped with error", map[string]any{
			"error": err.Error(),
		})
		return err
	}
	log.LogInfoWithFields("melody", "Application shutdown complete", nil)
	return nil
}

func (m *Melody) close() {
	if m.cleanup != nil {
		m.cleanup.Stop()
	}
	if err := m.coordinator.Close(); err != nil {
		log.LogWarnWithFields("melody", "Failed to close refresh coordinator", map[string]any{
			"error": err.Error(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.shutdownTelemetry(ctx); err != nil {
		log.LogWarnWithFields("melody", "Failed to flush traces", map[string]any{
			"error": err.Error(),
		})
	}
}

// setupCoordinator picks the refresh coordination backend
func setupCoordinator(ctx context.Context, cfg config.SessionConfig) (storage.Coordinator, *storage.CleanupManager, error) {
	switch cfg.Coordination {
	case config.CoordinationRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		coord := storage.NewRedisCoordinator(client)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := coord.Ping(pingCtx); err != nil {
			_ = coord.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}

		log.LogInfoWithFields("melody", "Using Redis refresh coordination", map[string]any{
			"addr": cfg.RedisAddr,
		})
		return coord, nil, nil

	default:
		mem := storage.NewMemoryCoordinator()
		log.LogInfoWithFields("melody", "Using in-process refresh coordination", nil)
		return mem, storage.NewCleanupManager(mem, cleanupInterval), nil
	}
}

func setupCookieStore(cfg config.SessionConfig) (*cookie.Store, error) {
	if cfg.CookieKey == "" {
		return cookie.NewStore(nil), nil
	}
	sealer, err := crypto.NewSealer([]byte(cfg.CookieKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie sealer: %w", err)
	}
	return cookie.NewStore(sealer), nil
}
