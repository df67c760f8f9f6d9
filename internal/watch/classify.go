package watch

import "github.com/shopspring/decimal"

// Kind is the classification of one observed listing against its stored
// counterpart.
type Kind int

const (
	KindUnchanged Kind = iota
	KindNewListing
	KindPriceDrop
)

var dec100 = decimal.NewFromInt(100)

// Classification is the result of comparing an observed price to the stored
// one. PriceChanged is set whenever the two differ, even when the change does
// not warrant an event, so callers know the record still needs a price write.
type Classification struct {
	Kind         Kind
	DropPct      decimal.Decimal
	PriceChanged bool
}

// Classify decides whether an observation is a new listing, a price drop
// meeting the threshold, or unchanged. stored is nil when the listing has
// never been seen for this watcher. Pure and deterministic.
//
// Price increases classify as unchanged: the record is updated but no event
// is raised.
func Classify(observed decimal.Decimal, stored *decimal.Decimal, threshold decimal.Decimal) Classification {
	if stored == nil {
		return Classification{Kind: KindNewListing}
	}

	prev := *stored
	if observed.Equal(prev) {
		return Classification{Kind: KindUnchanged}
	}

	if observed.GreaterThan(prev) || !prev.IsPositive() {
		return Classification{Kind: KindUnchanged, PriceChanged: true}
	}

	fraction := prev.Sub(observed).Div(prev)
	if fraction.GreaterThanOrEqual(threshold) {
		return Classification{
			Kind:         KindPriceDrop,
			DropPct:      fraction.Mul(dec100),
			PriceChanged: true,
		}
	}

	return Classification{Kind: KindUnchanged, PriceChanged: true}
}
