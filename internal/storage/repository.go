package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")

	// ErrListingNotFound indicates a price update targeted a row that does
	// not exist. Callers treat this as a logic inconsistency for that item.
	ErrListingNotFound = errors.New("storage: listing not found")
)

const (
	upsertListingSQL = `INSERT INTO listings (
        watcher_id,
        listing_id,
        title,
        price,
        previous_price,
        location,
        url,
        image_url,
        first_seen,
        last_seen,
        expires_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
    )
    ON CONFLICT (watcher_id, listing_id) DO UPDATE
    SET
        title      = EXCLUDED.title,
        price      = EXCLUDED.price,
        location   = EXCLUDED.location,
        url        = EXCLUDED.url,
        image_url  = EXCLUDED.image_url,
        last_seen  = EXCLUDED.last_seen,
        expires_at = EXCLUDED.expires_at;`

	getListingSQL = `SELECT
        watcher_id, listing_id, title, price, previous_price,
        location, url, image_url, first_seen, last_seen, expires_at
    FROM listings
    WHERE watcher_id = $1 AND listing_id = $2;`

	updateListingPriceSQL = `UPDATE listings
    SET previous_price = price,
        price          = $3,
        last_seen      = $4,
        expires_at     = $5
    WHERE watcher_id = $1 AND listing_id = $2
    RETURNING watcher_id, listing_id, title, price, previous_price,
              location, url, image_url, first_seen, last_seen, expires_at;`

	touchListingSQL = `UPDATE listings
    SET last_seen = $3, expires_at = $4
    WHERE watcher_id = $1 AND listing_id = $2;`

	listRecentListingsSQL = `SELECT
        watcher_id, listing_id, title, price, previous_price,
        location, url, image_url, first_seen, last_seen, expires_at
    FROM listings
    ORDER BY last_seen DESC
    LIMIT $1;`

	countListingsSQL = `SELECT COUNT(*) FROM listings;`

	deleteExpiredListingsSQL = `DELETE FROM listings WHERE expires_at < $1;`

	insertPricePointSQL = `INSERT INTO price_history (
        watcher_id, listing_id, price, observed_at
    ) VALUES ($1,$2,$3,$4);`

	listPriceHistorySQL = `SELECT watcher_id, listing_id, price, observed_at
    FROM price_history
    WHERE watcher_id = $1
      AND listing_id = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	insertRunSQL = `INSERT INTO runs (
        started_at, total_watchers, succeeded, failed,
        observed, new_listings, dropped, avg_duration_ms
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    RETURNING id;`

	listRecentRunsSQL = `SELECT
        id, started_at, total_watchers, succeeded, failed,
        observed, new_listings, dropped, avg_duration_ms, created_at
    FROM runs
    ORDER BY started_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ListingStore defines persistence for watched listings.
type ListingStore interface {
	GetListing(ctx context.Context, watcherID, listingID string) (*Listing, error)
	PutListing(ctx context.Context, listing Listing) error
	UpdateListingPrice(ctx context.Context, watcherID, listingID string, newPrice decimal.Decimal, seenAt, expiresAt time.Time) (Listing, error)
	TouchListing(ctx context.Context, watcherID, listingID string, seenAt, expiresAt time.Time) error
	ListRecentListings(ctx context.Context, limit int) ([]Listing, error)
	CountListings(ctx context.Context) (int64, error)
	DeleteExpiredListings(ctx context.Context, olderThan time.Time) (int64, error)
}

// PriceHistoryStore records observed price changes over time.
type PriceHistoryStore interface {
	InsertPricePoint(ctx context.Context, point PricePoint) error
	ListPriceHistory(ctx context.Context, watcherID, listingID string, from, to time.Time) ([]PricePoint, error)
}

// RunStore defines persistence for batch run summaries.
type RunStore interface {
	InsertRun(ctx context.Context, run RunRecord) (int64, error)
	ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to listings, price history, and run records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort
		}
		conn.Release()
	}
	return unlock, true, nil
}

// GetListing fetches one listing; nil means never seen.
func (s *Store) GetListing(ctx context.Context, watcherID, listingID string) (*Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, getListingSQL, watcherID, listingID)
	if queryErr != nil {
		return nil, fmt.Errorf("get listing: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, rows.Err()
		}
		return nil, nil
	}

	listing, scanErr := scanListing(rows)
	if scanErr != nil {
		return nil, scanErr
	}
	return &listing, nil
}

// PutListing creates (or refreshes) a listing record. FirstSeen is only
// written on insert.
func (s *Store) PutListing(ctx context.Context, listing Listing) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var prev interface{}
	if listing.PreviousPrice != nil {
		prev = listing.PreviousPrice.String()
	}

	_, execErr := pool.Exec(ctx, upsertListingSQL,
		listing.WatcherID,
		listing.ListingID,
		listing.Title,
		listing.Price.String(),
		prev,
		listing.Location,
		listing.URL,
		listing.ImageURL,
		listing.FirstSeen,
		listing.LastSeen,
		listing.ExpiresAt,
	)
	if execErr != nil {
		return fmt.Errorf("put listing: %w", execErr)
	}
	return nil
}

// UpdateListingPrice moves the current price into previous_price and writes
// the new one. Returns ErrListingNotFound when no row matched.
func (s *Store) UpdateListingPrice(ctx context.Context, watcherID, listingID string, newPrice decimal.Decimal, seenAt, expiresAt time.Time) (Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return Listing{}, err
	}

	rows, queryErr := pool.Query(ctx, updateListingPriceSQL, watcherID, listingID, newPrice.String(), seenAt, expiresAt)
	if queryErr != nil {
		return Listing{}, fmt.Errorf("update listing price: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return Listing{}, rows.Err()
		}
		return Listing{}, ErrListingNotFound
	}
	return scanListing(rows)
}

// TouchListing refreshes last_seen and expires_at without a price change.
func (s *Store) TouchListing(ctx context.Context, watcherID, listingID string, seenAt, expiresAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	cmdTag, execErr := pool.Exec(ctx, touchListingSQL, watcherID, listingID, seenAt, expiresAt)
	if execErr != nil {
		return fmt.Errorf("touch listing: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

// ListRecentListings lists listings ordered by most recent observation.
func (s *Store) ListRecentListings(ctx context.Context, limit int) ([]Listing, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentListingsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent listings: %w", queryErr)
	}
	defer rows.Close()

	listings := make([]Listing, 0, limit)
	for rows.Next() {
		listing, scanErr := scanListing(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		listings = append(listings, listing)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return listings, nil
}

// CountListings counts stored listings.
func (s *Store) CountListings(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countListingsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count listings: %w", scanErr)
	}
	return count, nil
}

// DeleteExpiredListings reclaims rows whose retention horizon has passed.
func (s *Store) DeleteExpiredListings(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	cmdTag, execErr := pool.Exec(ctx, deleteExpiredListingsSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete expired listings: %w", execErr)
	}
	return cmdTag.RowsAffected(), nil
}

// InsertPricePoint appends one price observation.
func (s *Store) InsertPricePoint(ctx context.Context, point PricePoint) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertPricePointSQL,
		point.WatcherID, point.ListingID, point.Price.String(), point.ObservedAt,
	); execErr != nil {
		return fmt.Errorf("insert price point: %w", execErr)
	}
	return nil
}

// ListPriceHistory returns price points within a time window.
func (s *Store) ListPriceHistory(ctx context.Context, watcherID, listingID string, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPriceHistorySQL, watcherID, listingID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price history: %w", queryErr)
	}
	defer rows.Close()

	points := make([]PricePoint, 0)
	for rows.Next() {
		var point PricePoint
		var priceStr string
		if err := rows.Scan(&point.WatcherID, &point.ListingID, &priceStr, &point.ObservedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse price point: %w", convErr)
		}
		point.Price = price
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// InsertRun persists one batch run summary.
func (s *Store) InsertRun(ctx context.Context, run RunRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	if scanErr := pool.QueryRow(ctx, insertRunSQL,
		run.StartedAt,
		run.TotalWatchers,
		run.Succeeded,
		run.Failed,
		run.Observed,
		run.NewListings,
		run.Dropped,
		run.AvgDuration.Milliseconds(),
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert run: %w", scanErr)
	}
	return id, nil
}

// ListRecentRuns lists most recent batch runs.
func (s *Store) ListRecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentRunsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent runs: %w", queryErr)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0, limit)
	for rows.Next() {
		var rec RunRecord
		var avgMS int64
		if err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&rec.TotalWatchers,
			&rec.Succeeded,
			&rec.Failed,
			&rec.Observed,
			&rec.NewListings,
			&rec.Dropped,
			&avgMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.AvgDuration = time.Duration(avgMS) * time.Millisecond
		runs = append(runs, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return runs, nil
}

func scanListing(rows pgx.Rows) (Listing, error) {
	var (
		listing  Listing
		priceStr string
		prevStr  sql.NullString
	)

	if err := rows.Scan(
		&listing.WatcherID,
		&listing.ListingID,
		&listing.Title,
		&priceStr,
		&prevStr,
		&listing.Location,
		&listing.URL,
		&listing.ImageURL,
		&listing.FirstSeen,
		&listing.LastSeen,
		&listing.ExpiresAt,
	); err != nil {
		return Listing{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Listing{}, fmt.Errorf("parse listing price: %w", err)
	}
	listing.Price = price

	if prevStr.Valid {
		prev, err := decimal.NewFromString(prevStr.String)
		if err != nil {
			return Listing{}, fmt.Errorf("parse previous price: %w", err)
		}
		listing.PreviousPrice = &prev
	}

	return listing, nil
}
