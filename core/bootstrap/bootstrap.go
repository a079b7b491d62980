// Package bootstrap composes the service: logger, session store backend,
// document store, scenario registry, metrics, and the execution engine.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/m3rciful/flowbot/core/config"
	"github.com/m3rciful/flowbot/core/database"
	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
	"github.com/m3rciful/flowbot/core/metrics"
	"github.com/m3rciful/flowbot/core/scenario"
	"github.com/m3rciful/flowbot/core/session"
	"github.com/m3rciful/flowbot/core/storage"
)

// Options control the bootstrap pipeline.
type Options struct {
	Config *config.Config
	// MigrationsDir holds SQL migrations for the postgres backend.
	MigrationsDir string
	// SkipLogger leaves the global logger untouched, for tests.
	SkipLogger bool
}

// Result exposes the composed components. Channel is a late binder: the
// Telegram bot does not exist yet when the engine is constructed, so the
// transport binds it at startup.
type Result struct {
	Store     session.Store
	Documents *storage.MongoStore
	Scenarios *scenario.Registry
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	Engine    *engine.Engine
	Channel   *ChannelBinder
}

// Run wires the service together in dependency order.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	if !opts.SkipLogger {
		if err := logger.Init(logger.Options{
			Level:   cfg.Logging.Level,
			Format:  cfg.Logging.Format,
			Profile: cfg.Logging.Profile,
			Dir:     cfg.Logging.Dir,
			File:    cfg.Logging.File,
		}); err != nil {
			return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
		}
	}

	res := &Result{Channel: &ChannelBinder{}}

	var docs *storage.MongoStore
	if cfg.Storage.Mongo.URI != "" {
		var err error
		docs, err = storage.Connect(ctx, cfg.Storage.Mongo)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: document store: %w", err)
		}
		res.Documents = docs
	}

	store, err := buildSessionStore(ctx, cfg, docs, opts.MigrationsDir)
	if err != nil {
		res.Close(ctx)
		return nil, err
	}
	res.Store = store

	registry := scenario.NewRegistry(cfg.Engine.ScenariosDir)
	if err := registry.LoadDir(ctx); err != nil {
		res.Close(ctx)
		return nil, fmt.Errorf("bootstrap: scenarios: %w", err)
	}
	if _, err := registry.Resolve(cfg.Engine.DefaultScenario); err != nil {
		res.Close(ctx)
		return nil, fmt.Errorf("bootstrap: default scenario: %w", err)
	}
	res.Scenarios = registry

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	res.Registry = promReg
	res.Metrics = metrics.New(promReg)

	engineOpts := engine.Options{
		Config:    cfg.Engine,
		Scenarios: registry,
		Store:     store,
		Channel:   res.Channel,
		Metrics:   res.Metrics,
	}
	if docs != nil {
		engineOpts.Documents = docs
	}
	eng, err := engine.New(engineOpts)
	if err != nil {
		res.Close(ctx)
		return nil, fmt.Errorf("bootstrap: engine: %w", err)
	}
	res.Engine = eng

	return res, nil
}

// Close releases backend connections. Safe to call on a partial result.
func (r *Result) Close(ctx context.Context) {
	if r.Store != nil {
		_ = r.Store.Close()
	}
	if r.Documents != nil {
		_ = r.Documents.Close(ctx)
	}
}

func buildSessionStore(ctx context.Context, cfg *config.Config, docs *storage.MongoStore, migrationsDir string) (session.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return session.NewMemoryStore(), nil
	case config.BackendRedis:
		return session.NewRedisStore(
			cfg.Storage.Redis.Addr,
			cfg.Storage.Redis.Password,
			cfg.Storage.Redis.DB,
		), nil
	case config.BackendMongo:
		if docs == nil {
			return nil, fmt.Errorf("bootstrap: mongo backend requires storage.mongo.uri")
		}
		return session.NewMongoStore(ctx, docs.Database())
	case config.BackendPostgres:
		db, err := database.Connect(cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: postgres: %w", err)
		}
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		if err := database.RunMigrations(cfg.Storage.Postgres, migrationsDir); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap: migrations: %w", err)
		}
		return session.NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown storage backend %q", cfg.Storage.Backend)
	}
}
