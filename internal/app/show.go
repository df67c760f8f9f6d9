package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"marketwatcher/internal/storage"
)

const timeRound = time.Millisecond

// Show prints recently observed listings, or recent batch runs with --runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show listings")
	}
	defer closeStore()

	if opts.Runs {
		return a.showRuns(ctx, store, opts.Limit)
	}
	return a.showListings(ctx, store, opts.Limit)
}

func (a *App) showListings(ctx context.Context, store *storage.Store, limit int) error {
	listings, err := store.ListRecentListings(ctx, limit)
	if err != nil {
		return err
	}
	if len(listings) == 0 {
		fmt.Fprintln(os.Stdout, "no listings found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Watcher\tListing\tTitle\tPrice\tWas\tLocation\tLast Seen (UTC)")

	for _, l := range listings {
		was := ""
		if l.PreviousPrice != nil {
			was = formatDecimal(*l.PreviousPrice, 2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.WatcherID,
			l.ListingID,
			sanitizeInline(l.Title),
			formatDecimal(l.Price, 2),
			was,
			sanitizeInline(l.Location),
			l.LastSeen.UTC().Format(time.RFC3339),
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showRuns(ctx context.Context, store *storage.Store, limit int) error {
	runs, err := store.ListRecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Started (UTC)\tWatchers\tSucceeded\tFailed\tObserved\tNew\tDropped\tAvg Duration")

	for _, r := range runs {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339),
			r.TotalWatchers,
			r.Succeeded,
			r.Failed,
			r.Observed,
			r.NewListings,
			r.Dropped,
			r.AvgDuration.Round(timeRound),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
