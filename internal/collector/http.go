package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"marketwatcher/internal/settings"
	"marketwatcher/internal/watch"
)

const searchPath = "/api/search"

// HTTPOptions parameterise the JSON marketplace collector.
type HTTPOptions struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxPages    int
	PageSize    int
	MaxAttempts int
	RetryBase   time.Duration

	// RatePerSecond caps outgoing search requests across all watchers.
	RatePerSecond float64
	Burst         int
}

// HTTP collects listings from a marketplace search API returning JSON pages.
type HTTP struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewHTTP constructs the HTTP collector.
func NewHTTP(opts HTTPOptions, logger zerolog.Logger) *HTTP {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 5
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &HTTP{
		opts:    opts,
		logger:  logger.With().Str("component", "http_collector").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Collect pages through the search endpoint until a short page or the page
// cap is reached.
func (h *HTTP) Collect(ctx context.Context, w watch.Watcher, creds settings.Credentials) ([]RawListing, error) {
	if h.baseURL == "" {
		return nil, parseErr(errors.New("marketplace base url not configured"))
	}

	var all []RawListing
	for page := 1; page <= h.opts.MaxPages; page++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, networkErr(err)
		}

		var listings []RawListing
		err := withRetry(ctx, h.opts.MaxAttempts, h.opts.RetryBase, func() error {
			var fetchErr error
			listings, fetchErr = h.fetchPage(ctx, w, creds, page)
			return fetchErr
		})
		if err != nil {
			return nil, err
		}

		all = append(all, listings...)
		if len(listings) < h.opts.PageSize {
			break
		}
	}

	h.logger.Debug().Str("watcher", w.ID).Int("listings", len(all)).Msg("search collected")
	return all, nil
}

func (h *HTTP) fetchPage(ctx context.Context, w watch.Watcher, creds settings.Credentials, page int) ([]RawListing, error) {
	endpoint, err := h.searchURL(w, page)
	if err != nil {
		return nil, parseErr(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, parseErr(err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(h.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if cookie := creds.Get("marketplace_cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, networkErr(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkErr(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, authErr(fmt.Errorf("marketplace rejected credentials (%d)", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, networkErr(httpError(resp.StatusCode, payload))
	}

	var res searchResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, parseErr(fmt.Errorf("decode search page %d: %w", page, err))
	}

	listings := make([]RawListing, 0, len(res.Listings))
	for _, item := range res.Listings {
		listing, err := item.toRawListing()
		if err != nil {
			// A single malformed record must not fail the page.
			h.logger.Warn().Err(err).Str("watcher", w.ID).Str("listing_id", item.ListingID).Msg("skipping malformed listing")
			continue
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (h *HTTP) searchURL(w watch.Watcher, page int) (string, error) {
	u, err := url.Parse(h.baseURL + searchPath)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("q", w.Query)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(h.opts.PageSize))
	if w.Location != "" {
		q.Set("location", w.Location)
	}
	if w.RadiusKM > 0 {
		q.Set("radius_km", strconv.Itoa(w.RadiusKM))
	}
	if w.MinPrice.IsPositive() {
		q.Set("min_price", w.MinPrice.String())
	}
	if w.MaxPrice.IsPositive() {
		q.Set("max_price", w.MaxPrice.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type searchResponse struct {
	Listings []searchListing `json:"listings"`
}

type searchListing struct {
	ListingID string `json:"listing_id"`
	Title     string `json:"title"`
	Price     string `json:"price"`
	Location  string `json:"location"`
	URL       string `json:"url"`
	ImageURL  string `json:"image_url"`
}

func (l searchListing) toRawListing() (RawListing, error) {
	if l.ListingID == "" {
		return RawListing{}, errors.New("listing without id")
	}
	price, err := decimal.NewFromString(l.Price)
	if err != nil {
		return RawListing{}, fmt.Errorf("parse price %q: %w", l.Price, err)
	}
	if price.IsNegative() {
		return RawListing{}, fmt.Errorf("negative price %s", price)
	}
	return RawListing{
		ListingID: l.ListingID,
		Title:     l.Title,
		Price:     price,
		Location:  l.Location,
		URL:       l.URL,
		ImageURL:  l.ImageURL,
	}, nil
}

type apiError struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func httpError(status int, payload []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		switch {
		case apiErr.Description != "":
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Description)
		case apiErr.Message != "":
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Message)
		case apiErr.ErrorType != "":
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("marketplace api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("marketplace api error (%d)", status)
}

var _ Collector = (*HTTP)(nil)
