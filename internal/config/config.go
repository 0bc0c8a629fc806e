// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the complete service configuration.
type Config struct {
	Service   ServiceConfig   `envPrefix:"SERVICE_"`
	Server    ServerConfig    `envPrefix:"SERVER_"`
	Database  DatabaseConfig  `envPrefix:"DB_"`
	NATS      NATSConfig      `envPrefix:"NATS_"`
	Directory DirectoryConfig `envPrefix:"ROLE_DIRECTORY_"`
	Tracing   TracingConfig   `envPrefix:"TRACING_"`
	Policy    PolicyConfig    `envPrefix:"POLICY_"`
	LogLevel  string          `env:"LOG_LEVEL" envDefault:"info"`
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `env:"NAME" envDefault:"be-spend-approvals"`
	Version     string `env:"VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// ServerConfig controls the HTTP and gRPC listeners.
type ServerConfig struct {
	Port            int           `env:"PORT" envDefault:"8086"`
	GRPCPort        int           `env:"GRPC_PORT" envDefault:"9086"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	RateLimit       float64       `env:"RATE_LIMIT" envDefault:"50"`
	RateBurst       int           `env:"RATE_BURST" envDefault:"100"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Driver      string        `env:"DRIVER" envDefault:"postgres"`
	Host        string        `env:"HOST" envDefault:"localhost"`
	Port        int           `env:"PORT" envDefault:"5432"`
	User        string        `env:"USER" envDefault:"postgres"`
	Password    string        `env:"PASSWORD"`
	Database    string        `env:"NAME" envDefault:"spend_approvals"`
	SSLMode     string        `env:"SSL_MODE" envDefault:"disable"`
	MaxConns    int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns    int32         `env:"MIN_CONNS" envDefault:"1"`
	MaxConnTime time.Duration `env:"MAX_CONN_TIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"MAX_IDLE_TIME" envDefault:"30m"`
	HealthCheck time.Duration `env:"HEALTH_CHECK" envDefault:"1m"`
	SQLitePath  string        `env:"SQLITE_PATH" envDefault:"data/spend-approvals.db"`
}

// NATSConfig configures the notification event publisher. An empty URL
// disables publishing.
type NATSConfig struct {
	URL           string        `env:"URL"`
	SubjectPrefix string        `env:"SUBJECT_PREFIX" envDefault:"notifications.spend"`
	ConnectWait   time.Duration `env:"CONNECT_WAIT" envDefault:"5s"`
}

// DirectoryConfig configures the role directory.
type DirectoryConfig struct {
	File   string `env:"FILE"`
	Domain string `env:"DOMAIN" envDefault:"cwit.lk"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	Output  string `env:"OUTPUT"`
}

// PolicyConfig points at optional policy files.
type PolicyConfig struct {
	BaselineFile string `env:"BASELINE_FILE"`
}

// Load parses environment variables into Config and validates them.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want postgres, sqlite or memory)", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("server ports must be positive")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}
	return nil
}

// DSN builds a Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
