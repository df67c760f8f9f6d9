package watch

import (
	"time"

	"github.com/shopspring/decimal"
)

// Watcher is one configured marketplace search with its own filters and
// notification channels. The core treats it as an immutable snapshot.
type Watcher struct {
	ID          string
	Name        string
	Enabled     bool
	Marketplace string

	Query           string
	Location        string
	RadiusKM        int
	MinPrice        decimal.Decimal
	MaxPrice        decimal.Decimal
	IncludeKeywords []string
	ExcludeKeywords []string

	// PriceDropThreshold is a fraction in [0,1). A reduction must meet or
	// exceed threshold*previousPrice to raise a price-drop event.
	PriceDropThreshold decimal.Decimal

	Channels map[string]ChannelConfig
}

// ChannelConfig gates one notification channel for a watcher. Params are
// opaque to the core and interpreted by the channel sender.
type ChannelConfig struct {
	Enabled bool
	Params  map[string]string
}

// EventKind discriminates classified events.
type EventKind string

const (
	EventNewListing EventKind = "new_listing"
	EventPriceDrop  EventKind = "price_drop"
)

// ListingSnapshot carries the listing fields an event needs to render a
// notification, decoupled from the storage record.
type ListingSnapshot struct {
	WatcherID     string
	ListingID     string
	Title         string
	Price         decimal.Decimal
	PreviousPrice *decimal.Decimal
	Location      string
	URL           string
	ImageURL      string
}

// Event is a classified observation worth notifying about. Unchanged
// observations never become events.
type Event struct {
	Kind    EventKind
	Listing ListingSnapshot
	DropPct decimal.Decimal
}

// RunResult reports the outcome of one watcher execution.
type RunResult struct {
	WatcherID   string
	Success     bool
	Err         string
	Observed    int
	New         int
	Dropped     int
	FailedItems int
	Duration    time.Duration
	Events      []Event
}

// RunSummary aggregates a full batch run.
type RunSummary struct {
	StartedAt     time.Time
	TotalWatchers int
	Succeeded     int
	Failed        int
	Observed      int
	New           int
	Dropped       int
	AvgDuration   time.Duration
	Results       []RunResult
}

// Aggregate folds per-watcher results into summary totals.
func (s *RunSummary) Aggregate(results []RunResult) {
	s.Results = results
	s.TotalWatchers = len(results)

	var total time.Duration
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
		s.Observed += r.Observed
		s.New += r.New
		s.Dropped += r.Dropped
		total += r.Duration
	}
	if len(results) > 0 {
		s.AvgDuration = total / time.Duration(len(results))
	}
}
