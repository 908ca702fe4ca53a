package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/pkg/actors"
	"github.com/aretw0/parley/pkg/adapters/file"
	"github.com/aretw0/parley/pkg/adapters/memory"
	redisstore "github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/adapters/workflow"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/stream"
	goredis "github.com/redis/go-redis/v9"
)

// Backend is an opened snapshot store with its optional locker.
type Backend struct {
	Store  ports.SnapshotStore
	Locker ports.DistributedLocker
	Close  func() error
}

// OpenStore connects the configured snapshot backend. It returns nil for the
// "none" backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (*Backend, error) {
	switch cfg.Backend {
	case config.StoreNone:
		return nil, nil
	case config.StoreMemory:
		return &Backend{
			Store:  memory.NewStore(),
			Locker: memory.NewLocker(),
			Close:  func() error { return nil },
		}, nil
	case config.StoreFile:
		// Snapshots on local disk are only shared within this process.
		return &Backend{
			Store:  file.New(cfg.File.Dir),
			Locker: memory.NewLocker(),
			Close:  func() error { return nil },
		}, nil
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return newRedisBackend(client, cfg.Redis), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func newRedisBackend(client *goredis.Client, cfg config.RedisConfig) *Backend {
	opts := []redisstore.Option{redisstore.WithTTL(cfg.TTL)}
	prefix := cfg.Prefix
	if prefix != "" {
		opts = append(opts, redisstore.WithPrefix(prefix))
	} else {
		prefix = "parley:session:"
	}
	return &Backend{
		Store:  redisstore.NewFromClient(client, opts...),
		Locker: redisstore.NewLocker(client, prefix),
		Close:  client.Close,
	}
}

// Middlewares returns the snapshot middlewares enabled in cfg. Masking runs
// before sealing.
func Middlewares(cfg config.StoreConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if cfg.PII.Enabled {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.PII.Patterns))
	}
	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}
	if key != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}))
	}
	return mws, nil
}

// OpenSnapshots opens the store with its middlewares applied, for commands that
// read snapshots without running sessions.
func OpenSnapshots(ctx context.Context, cfg config.StoreConfig) (ports.SnapshotStore, func() error, error) {
	b, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("store.backend is %q: no snapshots to read", cfg.Backend)
	}
	mws, err := Middlewares(cfg)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return middleware.Chain(b.Store, mws...), b.Close, nil
}

// NewWorkflow creates the HTTP workflow client described by cfg.
func NewWorkflow(cfg config.WorkflowConfig, logger *slog.Logger) (ports.Workflow, error) {
	opts := []workflow.Option{workflow.WithLogger(logger)}
	if cfg.Timeout > 0 {
		opts = append(opts, workflow.WithTimeout(cfg.Timeout))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, workflow.WithHeader(k, v))
	}
	return workflow.New(cfg.BaseURL, opts...)
}

// Build wires a Parley instance from the configuration. When wf is nil the
// configured workflow backend is used.
func Build(ctx context.Context, cfg *config.Config, wf ports.Workflow, logger *slog.Logger, extra ...parley.Option) (*parley.Parley, error) {
	if wf == nil {
		if err := cfg.RequireWorkflow(); err != nil {
			return nil, err
		}
		client, err := NewWorkflow(cfg.Workflow, logger)
		if err != nil {
			return nil, err
		}
		wf = client
	}

	opts := []parley.Option{
		parley.WithLogger(logger),
		parley.WithActorOptions(
			actors.WithEndpoints(cfg.Workflow.Endpoints),
			actors.WithTimeouts(cfg.Workflow.Timeouts),
			actors.WithFallback(cfg.Workflow.Fallback),
		),
		parley.WithMessages(cfg.Session.Messages.Fallback, cfg.Session.Messages.SlowNotice, cfg.Session.Messages.InvalidEmail),
		parley.WithStreamOptions(
			stream.WithBufferSize(cfg.Session.BufferSize),
			stream.WithHistoryLimit(cfg.Session.HistoryLimit),
		),
	}

	sessOpts := []session.Option{
		session.WithMapperOptions(
			session.WithQuiescent(cfg.Session.Quiescent...),
			session.WithPassThrough(cfg.Session.PassThrough...),
		),
		session.WithSlowNotice(cfg.Session.SlowNotice),
	}
	if cfg.Session.RateLimit.PerSecond > 0 {
		sessOpts = append(sessOpts, session.WithRateLimit(cfg.Session.RateLimit.PerSecond, cfg.Session.RateLimit.Burst))
	}
	opts = append(opts, parley.WithSessionOptions(sessOpts...))

	if cfg.Metrics.Enabled {
		opts = append(opts, parley.WithMetrics(observability.NewMetrics(observability.WithLogger(logger))))
	}

	backend, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if backend != nil {
		mws, err := Middlewares(cfg.Store)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		opts = append(opts,
			parley.WithSnapshotStore(backend.Store, mws...),
			parley.WithLocker(backend.Locker, cfg.Store.LockTTL),
			parley.WithCloser(backend.Close),
		)
	}

	p, err := parley.New(wf, append(opts, extra...)...)
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, err
	}
	logger.Debug("parley ready",
		"store", cfg.Store.Backend,
		"metrics", cfg.Metrics.Enabled,
		"rate_limit", cfg.Session.RateLimit.PerSecond)
	return p, nil
}
