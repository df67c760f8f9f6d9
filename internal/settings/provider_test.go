package settings

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/watch"
)

func TestEnabledWatchersFiltersDisabled(t *testing.T) {
	p := NewProvider([]watch.Watcher{
		{ID: "a", Enabled: true},
		{ID: "b", Enabled: false},
		{ID: "c", Enabled: true},
	}, nil, time.Minute, zerolog.Nop())

	enabled := p.EnabledWatchers()
	if len(enabled) != 2 {
		t.Fatalf("expected 2 enabled watchers, got %d", len(enabled))
	}
	if enabled[0].ID != "a" || enabled[1].ID != "c" {
		t.Fatalf("configuration order not preserved: %v", enabled)
	}
}

func TestCredentialsCachedUntilTTL(t *testing.T) {
	p := NewProvider(nil, map[string]string{"Marketplace_Cookie": "abc"}, time.Minute, zerolog.Nop())

	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	creds, err := p.Credentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.Get("marketplace_cookie") != "abc" {
		t.Fatalf("keys should be lower-cased, got %v", creds)
	}

	// Mutate the static source; within TTL the cached bundle must win.
	p.static["marketplace_cookie"] = "changed"
	creds, err = p.Credentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.Get("marketplace_cookie") != "abc" {
		t.Fatal("cache should serve until expiry")
	}

	// Past the TTL the bundle is re-resolved.
	clock = clock.Add(2 * time.Minute)
	creds, err = p.Credentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.Get("marketplace_cookie") != "changed" {
		t.Fatal("expired cache should refresh on read")
	}
}

func TestCredentialsEnvOverride(t *testing.T) {
	t.Setenv("MARKETWATCHER_SECRET_TELEGRAM_BOT_TOKEN", "tok123")

	p := NewProvider(nil, map[string]string{"telegram_bot_token": "from-config"}, time.Minute, zerolog.Nop())
	creds, err := p.Credentials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if creds.Get("telegram_bot_token") != "tok123" {
		t.Fatalf("environment should override static config, got %q", creds.Get("telegram_bot_token"))
	}
}
