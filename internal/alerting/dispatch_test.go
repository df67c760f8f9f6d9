package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/watch"
)

type fakeSender struct {
	mu    sync.Mutex
	calls int
	err   error
	block time.Duration
}

func (f *fakeSender) Send(ctx context.Context, msg Message, ch watch.ChannelConfig) error {
	if f.block > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.block):
		}
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testEvent() watch.Event {
	return watch.Event{
		Kind:    watch.EventNewListing,
		Listing: watch.ListingSnapshot{WatcherID: "w1", ListingID: "l1", Title: "ThinkPad"},
	}
}

func watcherWithChannels(names ...string) watch.Watcher {
	channels := make(map[string]watch.ChannelConfig, len(names))
	for _, n := range names {
		channels[n] = watch.ChannelConfig{Enabled: true}
	}
	return watch.Watcher{ID: "w1", Channels: channels}
}

func TestDispatchFailureIsolation(t *testing.T) {
	telegram := &fakeSender{}
	slack := &fakeSender{err: errors.New("webhook gone")}
	pushover := &fakeSender{}

	d := NewDispatcher(time.Second, zerolog.Nop())
	d.Register("telegram", telegram)
	d.Register("slack", slack)
	d.Register("pushover", pushover)

	// Must return normally despite the slack failure.
	d.Dispatch(context.Background(), testEvent(), watcherWithChannels("telegram", "slack", "pushover"))

	if telegram.callCount() != 1 || pushover.callCount() != 1 {
		t.Fatalf("healthy channels must still deliver: telegram=%d pushover=%d", telegram.callCount(), pushover.callCount())
	}
	if slack.callCount() != 1 {
		t.Fatalf("failing channel should have been attempted once, got %d", slack.callCount())
	}
}

func TestDispatchSkipsDisabledChannels(t *testing.T) {
	telegram := &fakeSender{}
	slack := &fakeSender{}

	d := NewDispatcher(time.Second, zerolog.Nop())
	d.Register("telegram", telegram)
	d.Register("slack", slack)

	w := watch.Watcher{ID: "w1", Channels: map[string]watch.ChannelConfig{
		"telegram": {Enabled: true},
		"slack":    {Enabled: false},
	}}
	d.Dispatch(context.Background(), testEvent(), w)

	if telegram.callCount() != 1 {
		t.Fatalf("enabled channel not invoked: %d", telegram.callCount())
	}
	if slack.callCount() != 0 {
		t.Fatalf("disabled channel must not be invoked: %d", slack.callCount())
	}
}

func TestDispatchNoEnabledChannelsIsNoop(t *testing.T) {
	d := NewDispatcher(time.Second, zerolog.Nop())
	// No senders registered, no channels enabled; must not panic or hang.
	d.Dispatch(context.Background(), testEvent(), watch.Watcher{ID: "w1"})
}

func TestDispatchUnregisteredChannelIgnored(t *testing.T) {
	telegram := &fakeSender{}
	d := NewDispatcher(time.Second, zerolog.Nop())
	d.Register("telegram", telegram)

	d.Dispatch(context.Background(), testEvent(), watcherWithChannels("telegram", "discord"))
	if telegram.callCount() != 1 {
		t.Fatalf("registered channel should still deliver, got %d", telegram.callCount())
	}
}

func TestDispatchTimesOutSlowChannel(t *testing.T) {
	slow := &fakeSender{block: 5 * time.Second}
	fast := &fakeSender{}

	d := NewDispatcher(50*time.Millisecond, zerolog.Nop())
	d.Register("slack", slow)
	d.Register("telegram", fast)

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), testEvent(), watcherWithChannels("slack", "telegram"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch hung on a slow channel past its timeout")
	}
	if fast.callCount() != 1 {
		t.Fatalf("fast channel should deliver, got %d", fast.callCount())
	}
}
