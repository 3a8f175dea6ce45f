package server

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/attendancy/attendancy-server/internal/config"
	"github.com/attendancy/attendancy-server/internal/session"
)

// NewHTTPServer wires base routes (health, metrics), the attendance code
// REST surface and the session WebSocket endpoint.
func NewHTTPServer(cfg *config.App, logger zerolog.Logger, redisClient *redis.Client, handlers *session.HTTPHandlers, wsHandler http.HandlerFunc) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := pingDependencies(r.Context(), redisClient); err != nil {
			logger.Error().Err(err).Msg("dependency ping failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.Handle("/metrics", promhttp.Handler())

	// Attendance code endpoints
	if handlers != nil {
		mux.HandleFunc("/v1/attendance", handlers.GenerateCode)
		mux.HandleFunc("/v1/attendance/{code}/validate", handlers.ValidateCode)
		mux.HandleFunc("/v1/attendance/{code}/export", handlers.ExportTally)
		mux.HandleFunc("/v1/attendance/{code}/qr", handlers.QRCode)
	}

	// WebSocket endpoint
	if wsHandler != nil {
		mux.HandleFunc("/ws/sessions", wsHandler)
	}

	return &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
}

func pingDependencies(ctx context.Context, redisClient *redis.Client) error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Ping(ctx).Err()
}
