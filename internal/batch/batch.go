// Package batch runs every enabled watcher in bounded-size concurrent waves
// and aggregates the outcome into a run summary.
package batch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatcher/internal/watch"
)

// Runner executes one watcher. It must not panic or return errors; failures
// are carried inside the RunResult.
type Runner interface {
	Run(ctx context.Context, w watch.Watcher) watch.RunResult
}

// Dispatcher fans a classified event out to the watcher's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev watch.Event, w watch.Watcher)
}

// Options tune batch behaviour.
type Options struct {
	// WaveCooldown is slept between consecutive waves, never after the last.
	WaveCooldown time.Duration
}

// Batch coordinates wave-partitioned watcher execution.
type Batch struct {
	runner     Runner
	dispatcher Dispatcher
	opts       Options
	logger     zerolog.Logger

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Batch. dispatcher may be nil to disable notifications.
func New(runner Runner, dispatcher Dispatcher, opts Options, logger zerolog.Logger) *Batch {
	return &Batch{
		runner:     runner,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "batch").Logger(),
		sleep:      sleepCtx,
	}
}

// RunAll executes all enabled watchers in waves of at most concurrency and
// returns the aggregated summary. The only error it returns is a
// configuration error detected before any watcher executes; every runtime
// failure is reported through the summary instead.
func (b *Batch) RunAll(ctx context.Context, watchers []watch.Watcher, concurrency int) (watch.RunSummary, error) {
	summary := watch.RunSummary{StartedAt: time.Now().UTC()}

	if err := validate(watchers, concurrency); err != nil {
		return summary, err
	}

	enabled := make([]watch.Watcher, 0, len(watchers))
	for _, w := range watchers {
		if w.Enabled {
			enabled = append(enabled, w)
		}
	}
	if len(enabled) == 0 {
		b.logger.Info().Msg("no enabled watchers; nothing to run")
		return summary, nil
	}

	waves := (len(enabled) + concurrency - 1) / concurrency
	b.logger.Info().Int("watchers", len(enabled)).Int("concurrency", concurrency).Int("waves", waves).Msg("starting batch run")

	results := make([]watch.RunResult, len(enabled))
	for start := 0; start < len(enabled); start += concurrency {
		end := start + concurrency
		if end > len(enabled) {
			end = len(enabled)
		}
		wave := enabled[start:end]

		var wg sync.WaitGroup
		for i, w := range wave {
			wg.Add(1)
			go func(idx int, w watch.Watcher) {
				defer wg.Done()
				result := b.runWatcher(ctx, w)
				results[start+idx] = result
				b.notify(ctx, result, w)
			}(i, w)
		}
		wg.Wait()

		if end < len(enabled) && b.opts.WaveCooldown > 0 {
			if err := b.sleep(ctx, b.opts.WaveCooldown); err != nil {
				// Shutdown mid-run: report what has settled so far.
				b.logger.Warn().Err(err).Msg("batch run interrupted during cooldown")
				summary.Aggregate(results[:end])
				return summary, nil
			}
		}
	}

	summary.Aggregate(results)
	b.logger.Info().
		Int("total", summary.TotalWatchers).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("observed", summary.Observed).
		Int("new", summary.New).
		Int("dropped", summary.Dropped).
		Dur("avg_duration", summary.AvgDuration).
		Msg("batch run complete")
	return summary, nil
}

// runWatcher shields the wave from a misbehaving runner; a panic becomes a
// failed RunResult for that watcher only.
func (b *Batch) runWatcher(ctx context.Context, w watch.Watcher) (result watch.RunResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = watch.RunResult{
				WatcherID: w.ID,
				Success:   false,
				Err:       fmt.Sprintf("watcher panicked: %v", rec),
			}
			b.logger.Error().Str("watcher", w.ID).Interface("panic", rec).Msg("watcher panicked")
		}
	}()
	return b.runner.Run(ctx, w)
}

func (b *Batch) notify(ctx context.Context, result watch.RunResult, w watch.Watcher) {
	if b.dispatcher == nil {
		return
	}
	for _, ev := range result.Events {
		b.dispatcher.Dispatch(ctx, ev, w)
	}
}

func validate(watchers []watch.Watcher, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
	}

	one := decimal.NewFromInt(1)
	seen := make(map[string]struct{}, len(watchers))
	for i, w := range watchers {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("watcher at index %d has an empty id", i)
		}
		if _, dup := seen[w.ID]; dup {
			return fmt.Errorf("duplicate watcher id %q", w.ID)
		}
		seen[w.ID] = struct{}{}

		if w.PriceDropThreshold.IsNegative() || w.PriceDropThreshold.GreaterThanOrEqual(one) {
			return fmt.Errorf("watcher %q: price drop threshold %s outside [0,1)", w.ID, w.PriceDropThreshold)
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
