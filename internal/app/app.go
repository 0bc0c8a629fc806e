// Package app wires configuration, persistence and services together for the
// server and the admin CLI.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pesio-ai/be-spend-approvals/internal/client"
	"github.com/pesio-ai/be-spend-approvals/internal/config"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-spend-approvals/internal/repository/sqlite"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

// Services bundles the application services sharing one store.
type Services struct {
	Store     repository.Store
	Approvals *service.ApprovalRoutingService
	Rules     *service.RuleService
	Inbox     *service.NotificationService

	closers []func()
}

// Close releases the store and any notification transport.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStore connects to the backend selected by DB_DRIVER and applies
// pending migrations.
func OpenStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		store := repository.NewPostgresStore(db)
		applied, err := store.Migrate(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		log.Info().Int("applied", applied).Msg("Database connection established")
		return store, nil

	case "sqlite":
		if dir := filepath.Dir(cfg.Database.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.Database.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		if _, err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		log.Info().Str("path", cfg.Database.SQLitePath).Msg("SQLite store opened")
		return store, nil

	case "memory":
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// NewServices opens the store and builds every service on top of it.
func NewServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Services, error) {
	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	svcs := &Services{Store: store}
	svcs.closers = append(svcs.closers, func() { _ = store.Close() })

	directory, err := newDirectory(cfg)
	if err != nil {
		svcs.Close()
		return nil, err
	}

	var baseline []service.BaselineRule
	if cfg.Policy.BaselineFile != "" {
		baseline, err = service.LoadBaseline(cfg.Policy.BaselineFile)
		if err != nil {
			svcs.Close()
			return nil, err
		}
		log.Info().Str("file", cfg.Policy.BaselineFile).Int("rules", len(baseline)).Msg("Baseline policy loaded")
	}

	notifier := client.MultiNotifier{client.NewInboxNotifier(store)}
	if cfg.NATS.URL != "" {
		conn, err := client.ConnectNATS(cfg.NATS.URL, cfg.Service.Name, cfg.NATS.ConnectWait)
		if err != nil {
			svcs.Close()
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		svcs.closers = append(svcs.closers, conn.Close)
		notifier = append(notifier, client.NewNotificationPublisher(conn, cfg.NATS.SubjectPrefix, log.Component("nats").Logger))
		log.Info().Str("url", cfg.NATS.URL).Msg("NATS notification publisher connected")
	}

	dispatcher := service.NewDispatcher(notifier, directory, log.Component("dispatcher"))
	chains := service.NewChainBuilder(store, baseline, log.Component("chain_builder"))

	svcs.Approvals = service.NewApprovalRoutingService(store, chains, dispatcher, log.Component("workflow"))
	svcs.Rules = service.NewRuleService(store, log.Component("rules"))
	svcs.Inbox = service.NewNotificationService(store)
	return svcs, nil
}

func newDirectory(cfg *config.Config) (*client.RoleDirectory, error) {
	if cfg.Directory.File == "" {
		return client.NewRoleDirectory(nil, cfg.Directory.Domain), nil
	}
	return client.LoadRoleDirectory(cfg.Directory.File, cfg.Directory.Domain)
}
