package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"marketwatcher/internal/watch"
)

// SimulateAlert pushes a synthetic event through the configured channels of a
// watcher so channel wiring can be verified without touching the marketplace.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	watchers := a.Config.WatcherSnapshot()
	w, err := selectWatcher(watchers, opts.WatcherID)
	if err != nil {
		return err
	}

	enabled := 0
	for _, cc := range w.Channels {
		if cc.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("watcher %q has no enabled channels", opts.WatcherID)
	}

	ev, err := syntheticEvent(w, opts)
	if err != nil {
		return err
	}

	dispatcher := a.newDispatcher()
	a.Logger.Info().Str("watcher", w.ID).Str("kind", string(ev.Kind)).Msg("dispatching simulated alert")
	dispatcher.Dispatch(ctx, ev, w)
	return nil
}

func syntheticEvent(w watch.Watcher, opts SimulateOptions) (watch.Event, error) {
	if opts.Price <= 0 {
		return watch.Event{}, errors.New("--price must be greater than zero")
	}

	title := opts.Title
	if title == "" {
		title = "Simulated listing"
	}

	listing := watch.ListingSnapshot{
		WatcherID: w.ID,
		ListingID: "simulated",
		Title:     title,
		Price:     decimal.NewFromFloat(opts.Price),
		URL:       opts.URL,
	}

	switch watch.EventKind(opts.Kind) {
	case watch.EventNewListing, "":
		return watch.Event{Kind: watch.EventNewListing, Listing: listing}, nil

	case watch.EventPriceDrop:
		if opts.PreviousPrice <= opts.Price {
			return watch.Event{}, errors.New("--previous-price must exceed --price for a price drop")
		}
		prev := decimal.NewFromFloat(opts.PreviousPrice)
		listing.PreviousPrice = &prev
		drop := prev.Sub(listing.Price).Div(prev).Mul(decimal.NewFromInt(100))
		return watch.Event{Kind: watch.EventPriceDrop, Listing: listing, DropPct: drop}, nil

	default:
		return watch.Event{}, fmt.Errorf("unknown event kind %q", opts.Kind)
	}
}
