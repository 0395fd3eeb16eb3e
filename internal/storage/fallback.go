package storage

import (
	"context"
	"errors"
	"fmt"

	"pubranker/internal/domain"
	"pubranker/internal/metrics"
	"pubranker/pkg/logger"
)

// Tier identifies which storage level the process runs on.
type Tier int

const (
	TierNone Tier = iota
	TierRemote
	TierLocal
	TierMemory
)

func (t Tier) String() string {
	switch t {
	case TierRemote:
		return "remote"
	case TierLocal:
		return "local"
	case TierMemory:
		return "memory"
	default:
		return "none"
	}
}

// Backend is what a successful tier attempt yields. Feed is nil for tiers
// without replication.
type Backend struct {
	Store Store
	Feed  ChangeFeed
}

// Attempt opens one tier.
type Attempt struct {
	Tier Tier
	Open func(ctx context.Context) (Backend, error)
}

// Controller exposes the tier chosen at startup. It never changes tier.
type Controller struct {
	tier    Tier
	backend Backend
	causes  map[Tier]error
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	log     logger.Logger
	metrics *metrics.Metrics
}

// WithLogger logs every failed attempt.
func WithLogger(l logger.Logger) Option {
	return func(o *openOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// WithMetrics records the active tier.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *openOptions) { o.metrics = m }
}

// Open runs attempts in order and keeps the first that succeeds. Each
// failure is logged with its cause. When every attempt fails the returned
// error wraps domain.ErrNoStore and every cause.
func Open(ctx context.Context, attempts []Attempt, opts ...Option) (*Controller, error) {
	o := openOptions{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	causes := make(map[Tier]error)
	errs := []error{domain.ErrNoStore}
	for _, a := range attempts {
		backend, err := a.Open(ctx)
		if err == nil && backend.Store == nil {
			err = errors.New("tier returned no store")
		}
		if err != nil {
			causes[a.Tier] = err
			errs = append(errs, fmt.Errorf("%s tier: %w", a.Tier, err))
			o.log.Warn(ctx, "storage tier unavailable", logger.String("tier", a.Tier.String()), logger.Error(err))
			continue
		}

		c := &Controller{tier: a.Tier, backend: backend, causes: causes}
		if c.Degraded() {
			o.log.Warn(ctx, "running on degraded storage", logger.String("tier", a.Tier.String()))
		} else {
			o.log.Info(ctx, "storage tier active", logger.String("tier", a.Tier.String()))
		}
		o.metrics.StoreTier(int(a.Tier))
		return c, nil
	}

	o.log.Error(ctx, "all storage tiers failed", logger.Int("attempts", len(attempts)))
	return nil, errors.Join(errs...)
}

// Tier returns the active tier.
func (c *Controller) Tier() Tier { return c.tier }

// Degraded reports whether the process runs below the remote tier.
func (c *Controller) Degraded() bool { return c.tier != TierRemote }

// Store returns the active store.
func (c *Controller) Store() Store { return c.backend.Store }

// Feed returns the change feed, nil unless the remote tier is active.
func (c *Controller) Feed() ChangeFeed { return c.backend.Feed }

// Cause returns why a higher tier was skipped, if it was attempted.
func (c *Controller) Cause(t Tier) error { return c.causes[t] }

// Close releases the active backend.
func (c *Controller) Close() error {
	var errs []error
	if c.backend.Feed != nil {
		errs = append(errs, c.backend.Feed.Close())
	}
	errs = append(errs, c.backend.Store.Close())
	return errors.Join(errs...)
}
