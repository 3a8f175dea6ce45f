package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"attendancy-server"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Session Session
	Redis   Redis
}

// Session groups the coordination tunables.
type Session struct {
	CodeLength       int           `env:"SESSION_CODE_LENGTH" envDefault:"6"`
	CodeAttempts     int           `env:"SESSION_CODE_ATTEMPTS" envDefault:"64"`
	CodeTTL          time.Duration `env:"SESSION_CODE_TTL" envDefault:"2h"`
	HostGrace        time.Duration `env:"SESSION_HOST_GRACE" envDefault:"30s"`
	TickInterval     time.Duration `env:"SESSION_TICK_INTERVAL" envDefault:"1s"`
	HostDisplay      string        `env:"SESSION_HOST_DISPLAY" envDefault:"123"`
	AttendeeDisplay  string        `env:"SESSION_ATTENDEE_DISPLAY" envDefault:"321"`
	ArchiveRetention time.Duration `env:"SESSION_ARCHIVE_RETENTION" envDefault:"2h"`
}

// Redis holds the tally archive store configuration. An empty Addr
// disables archiving.
type Redis struct {
	Addr     string `env:"REDIS_ADDR"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
