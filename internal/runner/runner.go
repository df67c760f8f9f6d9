// Package runner executes a single watcher: collect, filter, reconcile
// against the listing store, and emit classified events. Failures stay
// contained: an item failure skips that item, a collector failure fails the
// watcher run, and nothing propagates past Run.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatcher/internal/collector"
	"marketwatcher/internal/settings"
	"marketwatcher/internal/storage"
	"marketwatcher/internal/watch"
)

// CredentialSource hands out the credential bundle collectors need.
type CredentialSource interface {
	Credentials(ctx context.Context) (settings.Credentials, error)
}

// Runner executes watchers against a set of marketplace collectors.
type Runner struct {
	collectors map[string]collector.Collector
	store      storage.ListingStore
	history    storage.PriceHistoryStore
	creds      CredentialSource
	retention  time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// New constructs a Runner. history may be nil to disable price history.
func New(collectors map[string]collector.Collector, store storage.ListingStore, history storage.PriceHistoryStore, creds CredentialSource, retention time.Duration, logger zerolog.Logger) *Runner {
	if retention <= 0 {
		retention = 14 * 24 * time.Hour
	}
	return &Runner{
		collectors: collectors,
		store:      store,
		history:    history,
		creds:      creds,
		retention:  retention,
		now:        time.Now,
		logger:     logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes one watcher and always returns exactly one RunResult; the
// duration is populated on every path, including failures.
func (r *Runner) Run(ctx context.Context, w watch.Watcher) (result watch.RunResult) {
	started := time.Now()
	result = watch.RunResult{WatcherID: w.ID}

	defer func() {
		result.Duration = time.Since(started)
	}()

	if !w.Enabled {
		// Disabled watchers never reach the collector.
		result.Success = true
		return result
	}

	fail := func(err error) watch.RunResult {
		result.Success = false
		result.Err = err.Error()
		r.logger.Error().Err(err).Str("watcher", w.ID).Msg("watcher run failed")
		return result
	}

	coll, ok := r.collectors[w.Marketplace]
	if !ok {
		return fail(fmt.Errorf("no collector registered for marketplace %q", w.Marketplace))
	}

	creds, err := r.creds.Credentials(ctx)
	if err != nil {
		return fail(fmt.Errorf("resolve credentials: %w", err))
	}

	raw, err := coll.Collect(ctx, w, creds)
	if err != nil {
		// A collection failure invalidates the whole run; partial item
		// results would be misleading.
		return fail(err)
	}

	filtered := make([]collector.RawListing, 0, len(raw))
	for _, item := range raw {
		if w.MatchesFilters(item.Title, item.Price) {
			filtered = append(filtered, item)
		}
	}
	result.Observed = len(filtered)

	for _, item := range filtered {
		event, err := r.reconcile(ctx, w, item)
		if err != nil {
			result.FailedItems++
			r.logger.Warn().Err(err).Str("watcher", w.ID).Str("listing_id", item.ListingID).Msg("listing skipped")
			continue
		}
		if event == nil {
			continue
		}

		result.Events = append(result.Events, *event)
		switch event.Kind {
		case watch.EventNewListing:
			result.New++
		case watch.EventPriceDrop:
			result.Dropped++
		}
	}

	result.Success = true
	r.logger.Info().
		Str("watcher", w.ID).
		Int("observed", result.Observed).
		Int("new", result.New).
		Int("dropped", result.Dropped).
		Int("failed_items", result.FailedItems).
		Msg("watcher run complete")
	return result
}

// reconcile classifies one observed listing against the store and persists
// the outcome. It returns a non-nil event for new listings and threshold
// price drops only.
func (r *Runner) reconcile(ctx context.Context, w watch.Watcher, item collector.RawListing) (*watch.Event, error) {
	stored, err := r.store.GetListing(ctx, w.ID, item.ListingID)
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}

	var storedPrice *decimal.Decimal
	if stored != nil {
		p := stored.Price
		storedPrice = &p
	}

	cls := watch.Classify(item.Price, storedPrice, w.PriceDropThreshold)

	seenAt := r.now().UTC()
	expiresAt := seenAt.Add(r.retention)

	switch cls.Kind {
	case watch.KindNewListing:
		rec := storage.Listing{
			WatcherID: w.ID,
			ListingID: item.ListingID,
			Title:     item.Title,
			Price:     item.Price,
			Location:  item.Location,
			URL:       item.URL,
			ImageURL:  item.ImageURL,
			FirstSeen: seenAt,
			LastSeen:  seenAt,
			ExpiresAt: expiresAt,
		}
		if err := r.store.PutListing(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist new listing: %w", err)
		}
		r.recordPricePoint(ctx, w.ID, item.ListingID, item.Price, seenAt)
		return &watch.Event{Kind: watch.EventNewListing, Listing: snapshot(rec)}, nil

	case watch.KindPriceDrop:
		updated, err := r.store.UpdateListingPrice(ctx, w.ID, item.ListingID, item.Price, seenAt, expiresAt)
		if err != nil {
			return nil, fmt.Errorf("persist price drop: %w", err)
		}
		r.recordPricePoint(ctx, w.ID, item.ListingID, item.Price, seenAt)
		return &watch.Event{Kind: watch.EventPriceDrop, Listing: snapshot(updated), DropPct: cls.DropPct}, nil

	default:
		if cls.PriceChanged {
			// Increase or sub-threshold drop: the price is persisted, no
			// event is raised.
			if _, err := r.store.UpdateListingPrice(ctx, w.ID, item.ListingID, item.Price, seenAt, expiresAt); err != nil {
				return nil, fmt.Errorf("persist price change: %w", err)
			}
			r.recordPricePoint(ctx, w.ID, item.ListingID, item.Price, seenAt)
			return nil, nil
		}
		if err := r.store.TouchListing(ctx, w.ID, item.ListingID, seenAt, expiresAt); err != nil {
			return nil, fmt.Errorf("refresh listing: %w", err)
		}
		return nil, nil
	}
}

func (r *Runner) recordPricePoint(ctx context.Context, watcherID, listingID string, price decimal.Decimal, observedAt time.Time) {
	if r.history == nil {
		return
	}
	point := storage.PricePoint{
		WatcherID:  watcherID,
		ListingID:  listingID,
		Price:      price,
		ObservedAt: observedAt,
	}
	if err := r.history.InsertPricePoint(ctx, point); err != nil {
		r.logger.Warn().Err(err).Str("watcher", watcherID).Str("listing_id", listingID).Msg("price point not recorded")
	}
}

func snapshot(rec storage.Listing) watch.ListingSnapshot {
	return watch.ListingSnapshot{
		WatcherID:     rec.WatcherID,
		ListingID:     rec.ListingID,
		Title:         rec.Title,
		Price:         rec.Price,
		PreviousPrice: rec.PreviousPrice,
		Location:      rec.Location,
		URL:           rec.URL,
		ImageURL:      rec.ImageURL,
	}
}
