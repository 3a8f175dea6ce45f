package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/attendancy/attendancy-server/internal/config"
	"github.com/attendancy/attendancy-server/internal/logging"
	"github.com/attendancy/attendancy-server/internal/server"
	"github.com/attendancy/attendancy-server/internal/session"
	ws "github.com/attendancy/attendancy-server/pkg/http/ws"
)

// Application aggregates shared infrastructure (hub, registry, HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	redis       *redis.Client
	http        *http.Server
	coordinator *session.Coordinator
}

// New bootstraps config, logger, the session coordination core and the
// HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env)
	logger.Info().Msg("starting application bootstrap")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	} else {
		logger.Warn().Msg("REDIS_ADDR not set; tally archive disabled")
	}

	hub := ws.NewHub(logger)
	archive := session.NewArchive(redisClient, cfg.Session.ArchiveRetention, logger)
	metrics := session.NewMetrics(prometheus.DefaultRegisterer)

	coordinator := session.NewCoordinator(hub, archive, metrics, session.CoordinatorConfig{
		HostGrace:       cfg.Session.HostGrace,
		HostDisplay:     cfg.Session.HostDisplay,
		AttendeeDisplay: cfg.Session.AttendeeDisplay,
	}, logger)

	registry := session.NewRegistry(coordinator, session.RegistryOptions{
		CodeLength:  cfg.Session.CodeLength,
		MaxAttempts: cfg.Session.CodeAttempts,
		Machine:     session.MachineOptions{TickInterval: cfg.Session.TickInterval},
	}, logger)
	coordinator.BindRegistry(registry)

	wsHandler := session.NewWSHandler(coordinator, hub, logger)
	httpHandlers := session.NewHTTPHandlers(coordinator, registry, archive, cfg.Session.CodeTTL, logger)

	apiServer := server.NewHTTPServer(cfg, logger, redisClient, httpHandlers, wsHandler.HandleWebSocket)

	return &Application{
		cfg:         cfg,
		logger:      logger,
		redis:       redisClient,
		http:        apiServer,
		coordinator: coordinator,
	}, nil
}

// Run starts the HTTP server and waits for termination signals.
func (a *Application) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		a.logger.Warn().Msg("context canceled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
	defer cancel()

	if err := a.http.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("http shutdown error")
	}

	// stops every grace timer and round timer deterministically
	a.coordinator.Shutdown()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error().Err(err).Msg("redis shutdown error")
		}
	}

	a.logger.Info().Msg("shutdown complete")
	return nil
}
