package settings

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/watch"
)

// Credentials is an opaque key/value bundle (marketplace cookies, bot tokens,
// webhook secrets). Channel senders and collectors look up what they need by
// key.
type Credentials map[string]string

// Get returns the value for key, or "" when absent.
func (c Credentials) Get(key string) string {
	return c[key]
}

// cachedCredentials holds one resolved bundle with an explicit expiry.
type cachedCredentials struct {
	values    Credentials
	expiresAt time.Time
}

func (c *cachedCredentials) valid(now time.Time) bool {
	return c != nil && now.Before(c.expiresAt)
}

// Provider hands out the watcher configuration snapshot and a TTL-cached
// credential bundle. Credentials come from the static config merged with
// environment overrides (MARKETWATCHER_SECRET_<KEY>), re-resolved on read
// once the cache expires.
type Provider struct {
	watchers []watch.Watcher
	static   map[string]string
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu    sync.Mutex
	cache *cachedCredentials
}

const envSecretPrefix = "MARKETWATCHER_SECRET_"

// NewProvider builds a settings provider over an immutable watcher snapshot.
func NewProvider(watchers []watch.Watcher, static map[string]string, ttl time.Duration, logger zerolog.Logger) *Provider {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{
		watchers: watchers,
		static:   static,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With().Str("component", "settings").Logger(),
	}
}

// EnabledWatchers returns the watchers that should execute, preserving
// configuration order.
func (p *Provider) EnabledWatchers() []watch.Watcher {
	enabled := make([]watch.Watcher, 0, len(p.watchers))
	for _, w := range p.watchers {
		if w.Enabled {
			enabled = append(enabled, w)
		}
	}
	return enabled
}

// Watchers returns the full configuration snapshot, disabled entries
// included.
func (p *Provider) Watchers() []watch.Watcher {
	return p.watchers
}

// Credentials returns the current credential bundle, refreshing the cache
// when its TTL has lapsed.
func (p *Provider) Credentials(ctx context.Context) (Credentials, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.cache.valid(now) {
		return p.cache.values, nil
	}

	values := p.resolve()
	p.cache = &cachedCredentials{values: values, expiresAt: now.Add(p.ttl)}
	p.logger.Debug().Int("keys", len(values)).Time("expires_at", p.cache.expiresAt).Msg("credential bundle refreshed")
	return values, nil
}

func (p *Provider) resolve() Credentials {
	values := make(Credentials, len(p.static))
	for k, v := range p.static {
		values[strings.ToLower(k)] = v
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envSecretPrefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, envSecretPrefix))
		if name != "" {
			values[name] = value
		}
	}
	return values
}
