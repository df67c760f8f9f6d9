package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/watch"
)

// Dispatcher fans one classified event out to every enabled channel of a
// watcher. Channels run concurrently and are failure-isolated: a channel
// error is logged, never returned, and never affects sibling channels.
type Dispatcher struct {
	senders map[string]Sender
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDispatcher constructs an empty dispatcher; register senders before use.
func NewDispatcher(timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		senders: make(map[string]Sender),
		timeout: timeout,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Register wires a channel sender under its channel name. Adding a channel
// is registration, not a new branch in dispatch logic.
func (d *Dispatcher) Register(name string, sender Sender) {
	d.senders[name] = sender
}

// Dispatch delivers the event to all enabled channels and waits for them to
// settle. A watcher with zero enabled channels is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, ev watch.Event, w watch.Watcher) {
	msg := NewMessage(ev, w)

	var wg sync.WaitGroup
	for name, cc := range w.Channels {
		if !cc.Enabled {
			continue
		}

		sender, ok := d.senders[name]
		if !ok {
			d.logger.Warn().Str("watcher", w.ID).Str("channel", name).Msg("channel enabled but no sender registered")
			continue
		}

		wg.Add(1)
		go func(name string, sender Sender, cc watch.ChannelConfig) {
			defer wg.Done()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := sender.Send(sendCtx, msg, cc); err != nil {
				d.logger.Error().Err(err).
					Str("watcher", w.ID).
					Str("channel", name).
					Str("listing_id", ev.Listing.ListingID).
					Str("kind", string(ev.Kind)).
					Msg("channel delivery failed")
				return
			}
			d.logger.Debug().Str("watcher", w.ID).Str("channel", name).Str("listing_id", ev.Listing.ListingID).Msg("alert delivered")
		}(name, sender, cc)
	}
	wg.Wait()
}
