package watch

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MatchesFilters applies the watcher's keyword and price-bound filters to a
// raw observation. Collectors may over-fetch, so this runs on every collected
// listing before reconciliation.
//
// Include keywords must all be present in the title; any exclude keyword
// rejects the listing. Matching is case-insensitive substring. A zero
// MinPrice/MaxPrice means the bound is unset.
func (w Watcher) MatchesFilters(title string, price decimal.Decimal) bool {
	lower := strings.ToLower(title)

	for _, kw := range w.IncludeKeywords {
		if kw == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}

	for _, kw := range w.ExcludeKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}

	if w.MinPrice.IsPositive() && price.LessThan(w.MinPrice) {
		return false
	}
	if w.MaxPrice.IsPositive() && price.GreaterThan(w.MaxPrice) {
		return false
	}

	return true
}
