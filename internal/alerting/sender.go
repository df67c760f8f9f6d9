package alerting

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marketwatcher/internal/watch"
)

// Message carries the fixed set of fields every channel renders. Formatting
// is channel-specific; the field set is not.
type Message struct {
	WatcherID     string
	WatcherName   string
	Kind          watch.EventKind
	Title         string
	Price         decimal.Decimal
	PreviousPrice *decimal.Decimal
	DropPct       decimal.Decimal
	Location      string
	URL           string
	ImageURL      string
}

// Sender delivers a message over one channel. Per-watcher channel params may
// override the sender's defaults (chat id, webhook URL, recipient key).
type Sender interface {
	Send(ctx context.Context, msg Message, ch watch.ChannelConfig) error
}

// NewMessage builds the channel-independent message for a classified event.
func NewMessage(ev watch.Event, w watch.Watcher) Message {
	name := w.Name
	if name == "" {
		name = w.ID
	}
	return Message{
		WatcherID:     w.ID,
		WatcherName:   name,
		Kind:          ev.Kind,
		Title:         ev.Listing.Title,
		Price:         ev.Listing.Price,
		PreviousPrice: ev.Listing.PreviousPrice,
		DropPct:       ev.DropPct,
		Location:      ev.Listing.Location,
		URL:           ev.Listing.URL,
		ImageURL:      ev.Listing.ImageURL,
	}
}

func headline(msg Message) string {
	switch msg.Kind {
	case watch.EventPriceDrop:
		return fmt.Sprintf("Price drop (-%s%%): %s", msg.DropPct.StringFixed(1), msg.Title)
	default:
		return fmt.Sprintf("New listing: %s", msg.Title)
	}
}

func renderText(msg Message) string {
	builder := strings.Builder{}
	builder.WriteString(headline(msg))
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Watcher: %s\n", msg.WatcherName))
	builder.WriteString(fmt.Sprintf("Price: %s\n", msg.Price.StringFixed(2)))
	if msg.PreviousPrice != nil {
		builder.WriteString(fmt.Sprintf("Was: %s\n", msg.PreviousPrice.StringFixed(2)))
	}
	if msg.Location != "" {
		builder.WriteString(fmt.Sprintf("Location: %s\n", msg.Location))
	}
	if msg.URL != "" {
		builder.WriteString(msg.URL)
		builder.WriteString("\n")
	}
	return builder.String()
}
