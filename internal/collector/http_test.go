package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/settings"
	"marketwatcher/internal/watch"
)

func testWatcher() watch.Watcher {
	return watch.Watcher{ID: "w1", Query: "thinkpad x1", Location: "berlin", RadiusKM: 25}
}

func newTestHTTP(t *testing.T, baseURL string) *HTTP {
	t.Helper()
	return NewHTTP(HTTPOptions{
		BaseURL:       baseURL,
		Timeout:       time.Second,
		MaxPages:      3,
		PageSize:      2,
		MaxAttempts:   1,
		RatePerSecond: 1000,
		Burst:         1000,
	}, zerolog.Nop())
}

func TestHTTPCollectSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "thinkpad x1" {
			t.Errorf("query not forwarded: %v", q)
		}
		if r.Header.Get("Cookie") != "session=abc" {
			t.Errorf("cookie not forwarded: %q", r.Header.Get("Cookie"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"listings": []map[string]string{
				{"listing_id": "l1", "title": "ThinkPad X1", "price": "450", "location": "Berlin", "url": "https://x/l1"},
			},
		})
	}))
	defer srv.Close()

	c := newTestHTTP(t, srv.URL)
	creds := settings.Credentials{"marketplace_cookie": "session=abc"}

	listings, err := c.Collect(context.Background(), testWatcher(), creds)
	if err != nil {
		t.Fatalf("collect should succeed: %v", err)
	}
	if len(listings) != 1 || listings[0].ListingID != "l1" {
		t.Fatalf("unexpected listings: %+v", listings)
	}
	if !listings[0].Price.Equal(dec(t, "450")) {
		t.Fatalf("price parsed wrong: %s", listings[0].Price)
	}
}

func TestHTTPCollectPaginatesUntilShortPage(t *testing.T) {
	var pages atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages.Add(1)
		// Page 1 is full (size 2), page 2 is short, page 3 must never be hit.
		listings := []map[string]string{
			{"listing_id": "a" + page, "title": "t", "price": "1"},
		}
		if page == "1" {
			listings = append(listings, map[string]string{"listing_id": "b" + page, "title": "t", "price": "2"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"listings": listings})
	}))
	defer srv.Close()

	c := newTestHTTP(t, srv.URL)
	listings, err := c.Collect(context.Background(), testWatcher(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := pages.Load(); got != 2 {
		t.Fatalf("expected 2 page fetches, got %d", got)
	}
	if len(listings) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(listings))
	}
}

func TestHTTPCollectAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestHTTP(t, srv.URL)
	_, err := c.Collect(context.Background(), testWatcher(), nil)
	if err == nil {
		t.Fatal("403 must fail the collection")
	}
	ce, ok := err.(*Error)
	if !ok || ce.Kind != FailureAuth {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestHTTPCollectRetriesNetworkFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"listings": []map[string]string{}})
	}))
	defer srv.Close()

	c := NewHTTP(HTTPOptions{
		BaseURL:       srv.URL,
		Timeout:       time.Second,
		MaxPages:      1,
		MaxAttempts:   3,
		RetryBase:     time.Millisecond,
		RatePerSecond: 1000,
		Burst:         1000,
	}, zerolog.Nop())

	if _, err := c.Collect(context.Background(), testWatcher(), nil); err != nil {
		t.Fatalf("collect should recover after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPCollectSkipsMalformedListings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"listings": []map[string]string{
				{"listing_id": "", "title": "no id", "price": "10"},
				{"listing_id": "bad-price", "title": "t", "price": "n/a"},
				{"listing_id": "ok", "title": "t", "price": "10"},
			},
		})
	}))
	defer srv.Close()

	c := newTestHTTP(t, srv.URL)
	listings, err := c.Collect(context.Background(), testWatcher(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(listings) != 1 || listings[0].ListingID != "ok" {
		t.Fatalf("malformed records should be skipped, got %+v", listings)
	}
}

func TestWithRetryDoesNotRetryAuth(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return authErr(context.DeadlineExceeded)
	})
	if err == nil {
		t.Fatal("auth failure must surface")
	}
	if calls != 1 {
		t.Fatalf("auth failures must not be retried, got %d calls", calls)
	}
}
