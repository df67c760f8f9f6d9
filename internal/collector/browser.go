package collector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketwatcher/internal/settings"
	"marketwatcher/internal/watch"
)

// SelectorSet names the CSS selectors used to pull listing cards out of a
// rendered search page.
type SelectorSet struct {
	Card     string `mapstructure:"card"`
	Title    string `mapstructure:"title"`
	Price    string `mapstructure:"price"`
	Location string `mapstructure:"location"`
	Link     string `mapstructure:"link"`
	Image    string `mapstructure:"image"`
}

func (s *SelectorSet) defaults() {
	if s.Card == "" {
		s.Card = "article.listing-card"
	}
	if s.Title == "" {
		s.Title = ".listing-title"
	}
	if s.Price == "" {
		s.Price = ".listing-price"
	}
	if s.Location == "" {
		s.Location = ".listing-location"
	}
	if s.Link == "" {
		s.Link = "a"
	}
	if s.Image == "" {
		s.Image = "img"
	}
}

// BrowserOptions parameterise the headless-browser collector.
type BrowserOptions struct {
	BaseURL     string
	ControlURL  string // websocket URL of an external Chrome; empty launches one
	Headless    bool
	PageTimeout time.Duration
	Selectors   SelectorSet
}

// Browser collects listings by rendering the marketplace search page in a
// stealth Chrome tab. The browser process is shared across collections; each
// Collect acquires its own page and releases it on every exit path.
type Browser struct {
	opts   BrowserOptions
	logger zerolog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowser constructs the browser collector. Chrome is launched lazily on
// first use.
func NewBrowser(opts BrowserOptions, logger zerolog.Logger) *Browser {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 45 * time.Second
	}
	opts.Selectors.defaults()
	return &Browser{
		opts:   opts,
		logger: logger.With().Str("component", "browser_collector").Logger(),
	}
}

// Collect renders the search page and extracts listing cards.
func (b *Browser) Collect(ctx context.Context, w watch.Watcher, creds settings.Credentials) ([]RawListing, error) {
	br, err := b.ensureBrowser()
	if err != nil {
		return nil, networkErr(err)
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, networkErr(fmt.Errorf("open page: %w", err))
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			b.logger.Warn().Err(closeErr).Str("watcher", w.ID).Msg("failed to close page")
		}
	}()

	page = page.Context(ctx).Timeout(b.opts.PageTimeout)

	if cookie := creds.Get("marketplace_cookie"); cookie != "" {
		if err := page.SetCookies(cookieParams(cookie, b.opts.BaseURL)); err != nil {
			return nil, authErr(fmt.Errorf("set session cookie: %w", err))
		}
	}

	endpoint, err := b.searchURL(w)
	if err != nil {
		return nil, parseErr(err)
	}
	if err := page.Navigate(endpoint); err != nil {
		return nil, networkErr(fmt.Errorf("navigate search: %w", err))
	}
	if err := page.WaitLoad(); err != nil {
		return nil, networkErr(fmt.Errorf("wait for search page: %w", err))
	}

	cards, err := page.Elements(b.opts.Selectors.Card)
	if err != nil {
		return nil, parseErr(fmt.Errorf("query listing cards: %w", err))
	}

	listings := make([]RawListing, 0, len(cards))
	for _, card := range cards {
		listing, err := b.extractCard(card)
		if err != nil {
			b.logger.Warn().Err(err).Str("watcher", w.ID).Msg("skipping unparsable card")
			continue
		}
		listings = append(listings, listing)
	}

	b.logger.Debug().Str("watcher", w.ID).Int("cards", len(cards)).Int("listings", len(listings)).Msg("page scraped")
	return listings, nil
}

// Close tears down the shared Chrome process.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.logger.Warn().Err(err).Msg("browser close failed")
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Kill()
		b.lnch = nil
	}
}

func (b *Browser) ensureBrowser() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.opts.ControlURL
	if controlURL == "" {
		lnch := launcher.New().Headless(b.opts.Headless)
		u, err := lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		b.lnch = lnch
		controlURL = u
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		if b.lnch != nil {
			b.lnch.Kill()
			b.lnch = nil
		}
		return nil, fmt.Errorf("connect chrome: %w", err)
	}

	b.browser = br
	b.logger.Info().Bool("headless", b.opts.Headless).Msg("browser session established")
	return br, nil
}

func (b *Browser) searchURL(w watch.Watcher) (string, error) {
	base := strings.TrimRight(b.opts.BaseURL, "/")
	if base == "" {
		return "", errors.New("browser base url not configured")
	}

	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("/search?q=")
	sb.WriteString(strings.ReplaceAll(strings.TrimSpace(w.Query), " ", "+"))
	if w.Location != "" {
		sb.WriteString("&location=")
		sb.WriteString(strings.ReplaceAll(w.Location, " ", "+"))
	}
	if w.RadiusKM > 0 {
		fmt.Fprintf(&sb, "&radius_km=%d", w.RadiusKM)
	}
	return sb.String(), nil
}

func (b *Browser) extractCard(card *rod.Element) (RawListing, error) {
	sel := b.opts.Selectors

	titleEl, err := card.Element(sel.Title)
	if err != nil {
		return RawListing{}, fmt.Errorf("title element: %w", err)
	}
	title, err := titleEl.Text()
	if err != nil {
		return RawListing{}, fmt.Errorf("title text: %w", err)
	}

	priceEl, err := card.Element(sel.Price)
	if err != nil {
		return RawListing{}, fmt.Errorf("price element: %w", err)
	}
	priceText, err := priceEl.Text()
	if err != nil {
		return RawListing{}, fmt.Errorf("price text: %w", err)
	}
	price, err := ParsePriceText(priceText)
	if err != nil {
		return RawListing{}, err
	}

	linkEl, err := card.Element(sel.Link)
	if err != nil {
		return RawListing{}, fmt.Errorf("link element: %w", err)
	}
	href, err := linkEl.Attribute("href")
	if err != nil || href == nil {
		return RawListing{}, errors.New("card without link")
	}
	listingURL := resolveURL(b.opts.BaseURL, *href)

	id := listingIDFrom(card, listingURL)
	if id == "" {
		return RawListing{}, errors.New("card without listing id")
	}

	listing := RawListing{
		ListingID: id,
		Title:     strings.TrimSpace(title),
		Price:     price,
		URL:       listingURL,
	}

	if locEl, err := card.Element(sel.Location); err == nil {
		if loc, err := locEl.Text(); err == nil {
			listing.Location = strings.TrimSpace(loc)
		}
	}
	if imgEl, err := card.Element(sel.Image); err == nil {
		if src, err := imgEl.Attribute("src"); err == nil && src != nil {
			listing.ImageURL = *src
		}
	}

	return listing, nil
}

func listingIDFrom(card *rod.Element, listingURL string) string {
	if attr, err := card.Attribute("data-listing-id"); err == nil && attr != nil && *attr != "" {
		return *attr
	}
	// Fall back to the last path segment of the listing URL.
	trimmed := strings.TrimRight(listingURL, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx < len(trimmed)-1 {
		return trimmed[idx+1:]
	}
	return ""
}

func resolveURL(base, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(href, "/")
}

func cookieParams(cookie, baseURL string) []*proto.NetworkCookieParam {
	pairs := strings.Split(cookie, ";")
	params := make([]*proto.NetworkCookieParam, 0, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		params = append(params, &proto.NetworkCookieParam{
			Name:  name,
			Value: value,
			URL:   baseURL,
		})
	}
	return params
}

var priceRe = regexp.MustCompile(`[0-9][0-9.,]*`)

// ParsePriceText extracts a decimal price from a rendered price label such
// as "1.250 €" or "€ 49,90". Listings offered for free parse as zero.
func ParsePriceText(text string) (decimal.Decimal, error) {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return decimal.Decimal{}, errors.New("empty price text")
	}
	if strings.Contains(trimmed, "free") || strings.Contains(trimmed, "verschenken") {
		return decimal.Zero, nil
	}

	match := priceRe.FindString(trimmed)
	if match == "" {
		return decimal.Decimal{}, fmt.Errorf("no price in %q", text)
	}

	// European formatting: dots separate thousands, a comma separates cents.
	normalized := strings.ReplaceAll(match, ".", "")
	normalized = strings.ReplaceAll(normalized, ",", ".")

	price, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", text, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %q", text)
	}
	return price, nil
}

var _ Collector = (*Browser)(nil)
