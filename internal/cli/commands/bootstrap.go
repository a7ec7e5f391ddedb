// Package commands implements the northwind CLI.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/config"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/cli/ui"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/gateway"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/codegen"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store/memstore"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store/sqlstore"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/web/cache"
)

type schemaError struct {
	file string
	err  error
}

func (e *schemaError) Error() string { return fmt.Sprintf("load schema %s: %v", e.file, e.err) }
func (e *schemaError) Unwrap() error { return e.err }

type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

type typeNotFoundError struct {
	name        string
	suggestions []string
	err         error
}

func (e *typeNotFoundError) Error() string { return e.err.Error() }
func (e *typeNotFoundError) Unwrap() error { return e.err }

// loadConfig reads northwind.yml with the persistent flags layered on top
func loadConfig(cmd *cobra.Command, opts *globalOptions) (*config.Config, error) {
	v := config.New(opts.configFile)
	if f := cmd.Flags().Lookup("schema"); f != nil {
		if err := v.BindPFlag("schema.file", f); err != nil {
			return nil, &configError{err}
		}
	}
	if opts.debug {
		v.Set("log.development", true)
		v.Set("log.level", "debug")
	}
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return nil, &configError{err}
	}
	return cfg, nil
}

// newLogger builds the JSON production logger, or the console development
// logger when log.development is set
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, &configError{fmt.Errorf("log.level: %w", err)}
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func loadRegistry(file string) (*schema.Registry, error) {
	reg, err := schema.LoadDefinitionFile(file)
	if err != nil {
		return nil, &schemaError{file: file, err: err}
	}
	return reg, nil
}

// lookupType resolves a type name, attaching suggestions when it is unknown
func lookupType(reg *schema.Registry, name string) (*schema.EntityType, error) {
	et, err := reg.Lookup(name)
	if err != nil {
		return nil, &typeNotFoundError{name: name, suggestions: ui.Suggest(name, reg.Names()), err: err}
	}
	return et, nil
}

// openStore connects the configured store, applying the DDL when
// database.migrate is set and the tables are missing
func openStore(ctx context.Context, cfg config.DatabaseConfig, reg *schema.Registry, logger *zap.Logger) (store.Store, error) {
	if cfg.Driver == "memory" {
		return memstore.New(reg), nil
	}

	st, err := sqlstore.Open(cfg.Driver, cfg.URL, logger.Named("sql"))
	if err != nil {
		return nil, err
	}
	st.ConfigurePool(sqlstore.Pool{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	if cfg.Migrate {
		if err := ensureSchema(ctx, st, reg, cfg.Driver, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
	}
	return st, nil
}

// ensureSchema applies the generated DDL unless the first table answers a
// query already
func ensureSchema(ctx context.Context, st *sqlstore.Store, reg *schema.Registry, driver string, logger *zap.Logger) error {
	types := reg.Types()
	if len(types) == 0 {
		return nil
	}
	if _, err := st.Query(ctx, types[0], store.Query{Limit: 1}); err == nil {
		logger.Debug("schema present, skipping migration")
		return nil
	}

	dialect, err := codegen.ParseDialect(driver)
	if err != nil {
		return err
	}
	stmts, err := codegen.NewDDLGenerator(dialect).GenerateSchema(reg)
	if err != nil {
		return err
	}
	if err := st.Exec(ctx, stmts...); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	logger.Info("schema applied", zap.Int("statements", len(stmts)))
	return nil
}

func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	cc := cache.DefaultConfig()
	cc.DefaultTTL = cfg.TTL
	if cfg.Prefix != "" {
		cc.Prefix = cfg.Prefix
	}

	switch cfg.Backend {
	case config.CacheMemory:
		return cache.NewMemoryCache(cc), nil
	case config.CacheRedis:
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Cache:    cc,
		})
		if err != nil {
			return nil, ormerrors.Wrap(ormerrors.StoreUnavailable, err, "connect query cache")
		}
		return c, nil
	default:
		return nil, nil
	}
}

// buildGateway assembles the service described by cfg
func buildGateway(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gateway.Service, error) {
	reg, err := loadRegistry(cfg.Schema.File)
	if err != nil {
		return nil, err
	}

	tc, err := cfg.Transaction.Manager()
	if err != nil {
		return nil, &configError{err}
	}

	st, err := openStore(ctx, cfg.Database, reg, logger)
	if err != nil {
		return nil, err
	}

	qc, err := openCache(ctx, cfg.Cache)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := gateway.Options{Transaction: tc, CacheTTL: cfg.Cache.TTL, Logger: logger}
	if qc != nil {
		opts.Cache = qc
	}
	svc, err := gateway.New(reg, st, opts)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return svc, nil
}
