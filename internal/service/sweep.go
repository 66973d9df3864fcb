package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"whale-relay/internal/dedup"
	"whale-relay/internal/scheduler"
	"whale-relay/internal/storage"
)

// Sweeper prunes expired dedup keys on a schedule. Stores that expire keys
// natively (Redis) have nothing to sweep.
type Sweeper struct {
	scheduler *scheduler.Scheduler
	sweeper   dedup.Sweeper
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// NewSweeper returns nil when store cannot be swept.
func NewSweeper(sched *scheduler.Scheduler, store dedup.Store, lockKey int64, logger zerolog.Logger) *Sweeper {
	sw, ok := store.(dedup.Sweeper)
	if !ok {
		return nil
	}
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	return &Sweeper{
		scheduler: sched,
		sweeper:   sw,
		locker:    locker,
		lockKey:   lockKey,
		logger:    logger.With().Str("component", "sweeper").Logger(),
	}
}

// Run begins the sweep loop.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Sweep)
}

// Sweep 执行一次过期 key 清理。
func (s *Sweeper) Sweep(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	removed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep dedup keys: %w", err)
	}
	if removed > 0 {
		s.logger.Info().Time("tick", tick).Int64("removed", removed).Msg("expired dedup keys pruned")
	}
	return nil
}

func (s *Sweeper) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
