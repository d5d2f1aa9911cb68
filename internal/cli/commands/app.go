package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/conduit-lang/deltapatch/internal/config"
	"github.com/conduit-lang/deltapatch/internal/logging"
	"github.com/conduit-lang/deltapatch/internal/metrics"
	"github.com/conduit-lang/deltapatch/internal/orm/hooks"
	"github.com/conduit-lang/deltapatch/internal/orm/schema"
	"github.com/conduit-lang/deltapatch/internal/orm/validation"
	"github.com/conduit-lang/deltapatch/internal/patch"
	"github.com/conduit-lang/deltapatch/internal/store/memory"
	"github.com/conduit-lang/deltapatch/internal/store/redisstore"
	"github.com/conduit-lang/deltapatch/internal/store/sqlstore"
)

// errNoSchema is returned when no schema file is configured
var errNoSchema = errors.New("schema.file is not set; pass --schema or set it in deltapatch.yaml")

// app holds the components built from the configuration
type app struct {
	config   *config.Config
	logger   *zap.Logger
	registry *schema.Registry
	store    patch.Store
	engine   *patch.Engine
	metrics  *prometheus.Registry
	closers  []func() error
}

// loadConfig reads the configuration and applies flag overrides
func loadConfig(opts *globalOptions, schemaFile string) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if schemaFile != "" {
		cfg.Schema.File = schemaFile
	}
	return cfg, nil
}

// loadRegistry registers the models of the configured schema file
func loadRegistry(cfg *config.Config) (*schema.Registry, error) {
	if cfg.Schema.File == "" {
		return nil, errNoSchema
	}
	reg := schema.NewRegistry()
	if _, err := reg.LoadFile(cfg.Schema.File); err != nil {
		return nil, err
	}
	return reg, nil
}

// newApp builds the logger, registry, store and engine
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		config:   cfg,
		logger:   logger,
		registry: reg,
		closers:  []func() error{ignoreSyncError(logger.Sync)},
	}

	st, closer, err := openStore(ctx, cfg, reg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	keys, err := patch.NewKeyGenerator(cfg.Keys.Generator)
	if err != nil {
		a.Close()
		return nil, err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		a.metrics = prometheus.NewRegistry()
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(a.metrics)
	}

	var exec *hooks.Executor
	if cfg.Patch.Audit {
		exec = a.auditHooks()
	}

	a.engine, err = patch.New(patch.Options{
		Registry:     reg,
		Store:        st,
		Validator:    validation.NewEngine(),
		KeyGenerator: keys,
		IgnoreFields: cfg.Patch.IgnoreFields,
		Hooks:        exec,
		Logger:       logger,
		Metrics:      collector,
		OnDiagnostic: func(d patch.Diagnostic) {
			logger.Warn("input skipped", zap.Stringer("diagnostic", d))
		},
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// auditHooks logs committed records on a small worker pool. The queue is
// drained on Close.
func (a *app) auditHooks() *hooks.Executor {
	queue := hooks.NewAsyncQueue(2, 256, a.logger)
	queue.Start()
	a.closers = append(a.closers, func() error {
		queue.Shutdown()
		return nil
	})

	exec := hooks.NewExecutor(queue, a.logger)
	exec.Register(hooks.AfterCommit, &hooks.Hook{
		Async: true,
		Fn: func(hc *hooks.Context, rec schema.Record) error {
			a.logger.Info("record committed",
				zap.String("model", hc.Model().Name),
				zap.String("kind", hc.Kind()),
				zap.Any("key", primaryKey(hc.Model(), rec)))
			return nil
		},
	})
	return exec
}

func primaryKey(m *schema.Model, rec schema.Record) schema.NamedKey {
	key := make(schema.NamedKey)
	if pk, ok := m.PrimaryKey(); ok {
		for _, name := range pk.Fields {
			key[name] = rec[name]
		}
	}
	return key
}

// Close releases the store connection and flushes the logger
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openStore opens the configured store. The returned closer may be nil.
func openStore(ctx context.Context, cfg *config.Config, reg *schema.Registry, logger *zap.Logger) (patch.Store, func() error, error) {
	models := cfg.Store.Models

	switch strings.ToLower(cfg.Store.Driver) {
	case "memory":
		return memory.New(reg, models...), nil, nil

	case "redis":
		client, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		opts := []redisstore.Option{
			redisstore.WithPrefix(cfg.Redis.Prefix),
			redisstore.WithLogger(logger),
		}
		if len(models) > 0 {
			opts = append(opts, redisstore.WithModels(models...))
		}
		st := redisstore.New(client, reg, opts...)
		return st, st.Close, nil

	default:
		st, err := openSQLStore(ctx, cfg, reg, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.DB().Close, nil
	}
}

// openSQLStore opens and pings the configured SQL database
func openSQLStore(ctx context.Context, cfg *config.Config, reg *schema.Registry, logger *zap.Logger) (*sqlstore.Store, error) {
	db, dialect, err := sqlstore.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect.Name, err)
	}

	opts := []sqlstore.Option{
		sqlstore.WithLogger(logger),
		sqlstore.WithIsolation(cfg.IsolationLevel()),
	}
	if len(cfg.Store.Models) > 0 {
		opts = append(opts, sqlstore.WithModels(cfg.Store.Models...))
	}
	return sqlstore.New(db, dialect, reg, opts...), nil
}

// ignoreSyncError drops the error zap returns when syncing a terminal
func ignoreSyncError(sync func() error) func() error {
	return func() error {
		_ = sync()
		return nil
	}
}
