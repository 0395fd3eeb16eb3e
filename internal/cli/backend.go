package cli

import (
	"context"
	"errors"
	"fmt"

	"pubranker/internal/config"
	"pubranker/internal/infra/localfile"
	"pubranker/internal/infra/memory"
	"pubranker/internal/infra/postgres"
	"pubranker/internal/infra/redis"
	"pubranker/internal/metrics"
	"pubranker/internal/storage"
	"pubranker/pkg/logger"

	"github.com/google/uuid"
)

// tierAttempts lists remote, local and memory in fallback order.
func tierAttempts(cfg config.Config, log logger.Logger, m *metrics.Metrics) []storage.Attempt {
	origin := cfg.Replica.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	return []storage.Attempt{
		{Tier: storage.TierRemote, Open: func(ctx context.Context) (storage.Backend, error) {
			if cfg.Postgres.URL == "" {
				return storage.Backend{}, errors.New("postgres url not configured")
			}
			store, err := postgres.Open(ctx, cfg.Postgres.URL)
			if err != nil {
				return storage.Backend{}, err
			}
			if cfg.Redis.Addr == "" {
				return storage.Backend{Store: store}, nil
			}
			feed, err := redis.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, origin,
				redis.WithChannel(cfg.Redis.Channel),
				redis.WithBuffer(cfg.Redis.Buffer),
				redis.WithLogger(log.Named("feed")),
				redis.WithMetrics(m),
			)
			if err != nil {
				_ = store.Close()
				return storage.Backend{}, fmt.Errorf("change feed: %w", err)
			}
			return storage.Backend{Store: store, Feed: feed}, nil
		}},
		{Tier: storage.TierLocal, Open: func(ctx context.Context) (storage.Backend, error) {
			store, err := localfile.Open(ctx, cfg.Local.Path)
			if err != nil {
				return storage.Backend{}, err
			}
			return storage.Backend{Store: store}, nil
		}},
		{Tier: storage.TierMemory, Open: func(context.Context) (storage.Backend, error) {
			return storage.Backend{Store: memory.NewStore()}, nil
		}},
	}
}

func openStorage(ctx context.Context, cfg config.Config, log logger.Logger, m *metrics.Metrics) (*storage.Controller, error) {
	return storage.Open(ctx, tierAttempts(cfg, log, m),
		storage.WithLogger(log.Named("storage")),
		storage.WithMetrics(m),
	)
}

// availability reports the remote replica unusable below the remote tier
// or when either remote collaborator stops answering.
func availability(ctrl *storage.Controller) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if ctrl.Degraded() {
			return fmt.Errorf("running on %s storage", ctrl.Tier())
		}
		if err := ctrl.Store().Ping(ctx); err != nil {
			return fmt.Errorf("remote store: %w", err)
		}
		if feed := ctrl.Feed(); feed != nil {
			if err := feed.Ping(ctx); err != nil {
				return fmt.Errorf("change feed: %w", err)
			}
		}
		return nil
	}
}

func setupLogging(cfg config.Config) (logger.Logger, error) {
	if err := logger.Init(); err != nil {
		return nil, err
	}
	if err := logger.SetLevelString(cfg.Server.LogLevel); err != nil {
		return nil, err
	}
	return logger.Get(), nil
}
