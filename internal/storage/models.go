package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Listing is the persisted record for one (watcher, listing) pair. FirstSeen
// never changes after creation; LastSeen and ExpiresAt move forward on every
// observation, including unchanged ones. Reclamation of expired rows is the
// store's job, not the pipeline's.
type Listing struct {
	WatcherID     string
	ListingID     string
	Title         string
	Price         decimal.Decimal
	PreviousPrice *decimal.Decimal
	Location      string
	URL           string
	ImageURL      string
	FirstSeen     time.Time
	LastSeen      time.Time
	ExpiresAt     time.Time
}

// PricePoint is one observed price for a listing, recorded whenever the
// price changes.
type PricePoint struct {
	WatcherID  string
	ListingID  string
	Price      decimal.Decimal
	ObservedAt time.Time
}

// RunRecord captures one batch run for auditing.
type RunRecord struct {
	ID            int64
	StartedAt     time.Time
	TotalWatchers int
	Succeeded     int
	Failed        int
	Observed      int
	NewListings   int
	Dropped       int
	AvgDuration   time.Duration
	CreatedAt     time.Time
}
