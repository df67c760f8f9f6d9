// Package service ties the scheduler to the batch pipeline: each tick runs
// every enabled watcher and records the summary.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/batch"
	"marketwatcher/internal/scheduler"
	"marketwatcher/internal/settings"
	"marketwatcher/internal/storage"
	"marketwatcher/internal/watch"
)

// Service orchestrates scheduled watcher sweeps.
type Service struct {
	scheduler   *scheduler.Scheduler
	provider    *settings.Provider
	batch       *batch.Batch
	runs        storage.RunStore
	store       storage.ListingStore
	locker      storage.AdvisoryLocker
	lockKey     int64
	concurrency int
	logger      zerolog.Logger
}

// Options configure the sweep service.
type Options struct {
	Concurrency     int
	AdvisoryLockKey int64
}

// New constructs the sweep service. runs, store, and locker may be nil when
// persistence is disabled.
func New(sched *scheduler.Scheduler, provider *settings.Provider, b *batch.Batch, runs storage.RunStore, store storage.ListingStore, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Service {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		scheduler:   sched,
		provider:    provider,
		batch:       b,
		runs:        runs,
		store:       store,
		locker:      locker,
		lockKey:     opts.AdvisoryLockKey,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Sweep)
}

// Sweep executes one full batch run.
func (s *Service) Sweep(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip sweep because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := s.RunAll(ctx, s.provider.EnabledWatchers()); err != nil {
		return err
	}

	s.reapExpired(ctx)
	return nil
}

// RunAll runs the given watchers through the batch pipeline and persists the
// summary. A configuration error aborts before any watcher executes.
func (s *Service) RunAll(ctx context.Context, watchers []watch.Watcher) (watch.RunSummary, error) {
	summary, err := s.batch.RunAll(ctx, watchers, s.concurrency)
	if err != nil {
		return summary, fmt.Errorf("batch run: %w", err)
	}

	if s.runs != nil && summary.TotalWatchers > 0 {
		record := storage.RunRecord{
			StartedAt:     summary.StartedAt,
			TotalWatchers: summary.TotalWatchers,
			Succeeded:     summary.Succeeded,
			Failed:        summary.Failed,
			Observed:      summary.Observed,
			NewListings:   summary.New,
			Dropped:       summary.Dropped,
			AvgDuration:   summary.AvgDuration,
		}
		if _, err := s.runs.InsertRun(ctx, record); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist run record")
		}
	}

	return summary, nil
}

// reapExpired asks the store to reclaim listings past their retention
// horizon. Best effort; the sweep result does not depend on it.
func (s *Service) reapExpired(ctx context.Context) {
	if s.store == nil {
		return
	}
	removed, err := s.store.DeleteExpiredListings(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Warn().Err(err).Msg("expired listing reap failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("expired listings reclaimed")
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
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
