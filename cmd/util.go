// Package cmd provides the penf-linker CLI commands.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-linker/config"
	"github.com/otherjamesbrown/penf-linker/credentials"
	"github.com/otherjamesbrown/penf-linker/pkg/db"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/annotation"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/engine"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/pipeline"
	"github.com/otherjamesbrown/penf-linker/pkg/linking/store"
	"github.com/otherjamesbrown/penf-linker/pkg/logging"
)

// Deps holds the dependencies shared by the linker commands. Tests swap the
// constructors for in-memory versions.
type Deps struct {
	LoadConfig   func() (*config.LinkerConfig, error)
	NewLogger    func(*config.LinkerConfig) logging.Logger
	ConnectToDB  func(context.Context, *config.LinkerConfig) (*pgxpool.Pool, error)
	OpenStore    func(context.Context, *config.LinkerConfig, logging.Logger) (store.Store, func(), error)
	NewAnnotator func(*config.LinkerConfig, logging.Logger, engine.Observer) (engine.Annotator, func(), error)
}

// DefaultDeps returns the production dependencies. load reads the
// configuration with the root command's flags applied.
func DefaultDeps(load func() (*config.LinkerConfig, error)) *Deps {
	return &Deps{
		LoadConfig:   load,
		NewLogger:    newLogger,
		ConnectToDB:  connectToDatabase,
		OpenStore:    openPostgresStore,
		NewAnnotator: newAnnotator,
	}
}

func newLogger(cfg *config.LinkerConfig) logging.Logger {
	return logging.NewLogger(&cfg.Logging)
}

// connectToDatabase establishes a database connection.
func connectToDatabase(ctx context.Context, cfg *config.LinkerConfig) (*pgxpool.Pool, error) {
	pool, err := db.ConnectWithRetry(ctx, &cfg.Database, cfg.Database.ConnectAttempts, time.Second)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Database.Host, err)
	}
	return pool, nil
}

// openPostgresStore connects and wraps the pool in a store. The returned
// func closes the pool.
func openPostgresStore(ctx context.Context, cfg *config.LinkerConfig, logger logging.Logger) (store.Store, func(), error) {
	pool, err := connectToDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(pool, logger), pool.Close, nil
}

// connectToRedis establishes a Redis connection.
func connectToRedis(ctx context.Context, cfg *config.LinkerConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("testing connection to %s: %w", cfg.Queue.RedisAddr, err)
	}

	return client, nil
}

// newAnnotator builds the configured annotation backend. The returned func
// releases it.
func newAnnotator(cfg *config.LinkerConfig, logger logging.Logger, observer engine.Observer) (engine.Annotator, func(), error) {
	if cfg.Engine.Backend == config.EngineLocal {
		local, err := engine.NewLocalAnnotator(cfg.Engine.ModelPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading model %s: %w", cfg.Engine.ModelPath, err)
		}
		return local, func() {
			if err := local.Close(); err != nil {
				logger.Warn("Failed to release local model", logging.Err(err))
			}
		}, nil
	}

	opts := []engine.ClientOption{
		engine.WithHTTPClient(&http.Client{Timeout: cfg.Engine.Timeout}),
		engine.WithAccept(cfg.Engine.Accept),
		engine.WithRetryPolicy(cfg.Engine.Retry),
		engine.WithLogger(logger),
	}
	if key := engineAPIKey(logger); key != "" {
		opts = append(opts, engine.WithAPIKey(key))
	}
	if observer != nil {
		opts = append(opts, engine.WithObserver(observer))
	}
	return engine.NewClient(cfg.Engine.URL, opts...), func() {}, nil
}

// engineAPIKey returns the environment or stored engine key. A host without
// a usable keyring simply runs without one.
func engineAPIKey(logger logging.Logger) string {
	if key, _ := credentials.EngineAPIKey(nil); key != "" {
		return key
	}
	credStore, err := credentials.NewStore()
	if err != nil {
		logger.Debug("Credential store unavailable", logging.Err(err))
		return ""
	}
	key, err := credentials.EngineAPIKey(credStore)
	if err != nil {
		logger.Warn("Failed to read stored engine API key", logging.Err(err))
		return ""
	}
	return key
}

// newService builds a linking service from the configuration.
func newService(cfg *config.LinkerConfig, st store.Store, annotator engine.Annotator, logger logging.Logger, opts ...pipeline.Option) (*pipeline.Service, error) {
	parser := annotation.NewParser(
		annotation.WithTypeMapping(cfg.TypeMapping(annotation.DefaultTypeMapping())),
		annotation.WithLogger(logger),
	)
	base := []pipeline.Option{
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithPolicy(cfg.Policy),
		pipeline.WithParser(parser),
		pipeline.WithLogger(logger),
	}
	return pipeline.New(st, annotator, append(base, opts...)...)
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
