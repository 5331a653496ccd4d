package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"callSpread/internal/model"
)

// Locker provides mutual exclusion between keeper instances.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// LoopConfig controls the periodic driver.
type LoopConfig struct {
	Interval  time.Duration
	BatchSize int
	LockKey   string
	LockTTL   time.Duration
}

// Hooks run inside the lock around every batch. Before can reload shared
// state; After can persist it. Both are optional.
type Hooks struct {
	Before func(ctx context.Context) error
	After  func(ctx context.Context, report model.Report) error
}

// Loop runs the keeper on a fixed interval.
type Loop struct {
	cfg    LoopConfig
	keeper *Keeper
	locker Locker
	hooks  Hooks
	logger *zap.Logger
}

// NewLoop builds a loop. locker may be nil for a single instance.
func NewLoop(cfg LoopConfig, keeper *Keeper, locker Locker, hooks Hooks, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "callspread:keeper"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Loop{cfg: cfg, keeper: keeper, locker: locker, hooks: hooks, logger: logger}
}

// Run ticks until ctx is cancelled. The first batch runs immediately.
func (l *Loop) Run(ctx context.Context) error {
	if l.cfg.Interval <= 0 {
		return fmt.Errorf("keeper interval must be positive")
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := l.Tick(ctx); err != nil && !errors.Is(err, model.ErrLockHeld) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("keeper tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one batch, holding the lock when a locker is configured.
func (l *Loop) Tick(ctx context.Context) (model.Report, error) {
	if l.locker != nil {
		unlock, err := l.locker.Acquire(ctx, l.cfg.LockKey, l.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, model.ErrLockHeld) {
				l.logger.Debug("keeper lock held elsewhere, skipping tick", zap.String("key", l.cfg.LockKey))
			}
			return model.Report{}, err
		}
		defer unlock()
	}

	if l.hooks.Before != nil {
		if err := l.hooks.Before(ctx); err != nil {
			return model.Report{}, fmt.Errorf("before run: %w", err)
		}
	}
	report, err := l.keeper.Run(ctx, l.cfg.BatchSize)
	if err != nil {
		return report, err
	}
	if l.hooks.After != nil {
		if err := l.hooks.After(ctx, report); err != nil {
			return report, fmt.Errorf("after run: %w", err)
		}
	}
	return report, nil
}
