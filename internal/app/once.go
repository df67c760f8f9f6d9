package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"marketwatcher/internal/service"
	"marketwatcher/internal/watch"
)

// RunOnce executes a single sweep and prints the outcome. An empty watcher id
// runs every configured watcher.
func (a *App) RunOnce(ctx context.Context, opts OnceOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot run watchers")
	}
	defer closeStore()

	provider := a.newProvider()
	b, closeCollectors := a.newBatch(store, provider)
	defer closeCollectors()

	watchers := provider.Watchers()
	if opts.WatcherID != "" {
		selected, err := selectWatcher(watchers, opts.WatcherID)
		if err != nil {
			return err
		}
		watchers = []watch.Watcher{selected}
	}

	svc := service.New(nil, provider, b, store, store, nil, service.Options{
		Concurrency: a.Config.Scheduler.Concurrency,
	}, a.Logger)

	summary, err := svc.RunAll(ctx, watchers)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

func selectWatcher(watchers []watch.Watcher, id string) (watch.Watcher, error) {
	for _, w := range watchers {
		if w.ID == id {
			if !w.Enabled {
				return watch.Watcher{}, fmt.Errorf("watcher %q is disabled", id)
			}
			return w, nil
		}
	}
	return watch.Watcher{}, fmt.Errorf("watcher %q not found", id)
}

func printSummary(summary watch.RunSummary) {
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Watcher\tStatus\tObserved\tNew\tDropped\tFailed Items\tDuration\tError")
	for _, r := range summary.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.WatcherID,
			status,
			r.Observed,
			r.New,
			r.Dropped,
			r.FailedItems,
			r.Duration.Round(timeRound),
			sanitizeInline(r.Err),
		)
	}
	fmt.Fprintf(writer, "\nTotal: %d\tSucceeded: %d\tFailed: %d\tNew: %d\tDropped: %d\n",
		summary.TotalWatchers, summary.Succeeded, summary.Failed, summary.New, summary.Dropped)
	writer.Flush()
}
