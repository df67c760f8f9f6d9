package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marketwatcher/internal/alerting"
	"marketwatcher/internal/batch"
	"marketwatcher/internal/collector"
	"marketwatcher/internal/config"
	"marketwatcher/internal/runner"
	"marketwatcher/internal/scheduler"
	"marketwatcher/internal/service"
	"marketwatcher/internal/settings"
	"marketwatcher/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newCollectors builds the marketplace collectors keyed by the name watchers
// reference. The returned cleanup tears down the shared browser, if any.
func (a *App) newCollectors() (map[string]collector.Collector, func()) {
	collectors := map[string]collector.Collector{
		"http": collector.NewHTTP(collector.HTTPOptions{
			BaseURL:       a.Config.Marketplace.BaseURL,
			UserAgent:     a.Config.Marketplace.UserAgent,
			Timeout:       a.Config.Marketplace.RequestTimeout,
			MaxPages:      a.Config.Marketplace.MaxPages,
			PageSize:      a.Config.Marketplace.PageSize,
			MaxAttempts:   a.Config.Marketplace.MaxAttempts,
			RetryBase:     a.Config.Marketplace.RetryBase,
			RatePerSecond: a.Config.Marketplace.RatePerSecond,
			Burst:         a.Config.Marketplace.Burst,
		}, a.Logger),
	}

	cleanup := func() {}
	if a.Config.Browser.Enabled {
		browser := collector.NewBrowser(collector.BrowserOptions{
			BaseURL:     a.Config.Browser.BaseURL,
			ControlURL:  a.Config.Browser.ControlURL,
			Headless:    a.Config.Browser.Headless,
			PageTimeout: a.Config.Browser.PageTimeout,
			Selectors:   selectorSet(a.Config.Browser.Selectors),
		}, a.Logger)
		collectors["browser"] = browser
		cleanup = browser.Close
	}

	return collectors, cleanup
}

func selectorSet(m map[string]string) collector.SelectorSet {
	return collector.SelectorSet{
		Card:     m["card"],
		Title:    m["title"],
		Price:    m["price"],
		Location: m["location"],
		Link:     m["link"],
		Image:    m["image"],
	}
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	cfg := a.Config.Alerting
	dispatcher := alerting.NewDispatcher(cfg.ChannelTimeout, a.Logger)

	if cfg.Telegram.Enabled {
		dispatcher.Register("telegram", alerting.NewTelegramSender(
			cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, cfg.ChannelTimeout, a.Logger))
	}
	if cfg.Slack.Enabled {
		dispatcher.Register("slack", alerting.NewSlackSender(
			cfg.Slack.WebhookURL, cfg.ChannelTimeout, a.Logger))
	}
	if cfg.Pushover.Enabled {
		dispatcher.Register("pushover", alerting.NewPushoverSender(
			cfg.Pushover.Token, cfg.Pushover.UserKey, cfg.Pushover.APIBase, cfg.ChannelTimeout, a.Logger))
	}

	return dispatcher
}

func (a *App) newProvider() *settings.Provider {
	return settings.NewProvider(
		a.Config.WatcherSnapshot(),
		a.Config.Credentials.Static,
		a.Config.Credentials.TTL,
		a.Logger,
	)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newBatch assembles the watcher pipeline over an open store.
func (a *App) newBatch(store *storage.Store, provider *settings.Provider) (*batch.Batch, func()) {
	collectors, closeCollectors := a.newCollectors()

	run := runner.New(
		collectors,
		store,
		store,
		provider,
		a.Config.Database.RetentionWindow,
		a.Logger,
	)

	b := batch.New(run, a.newDispatcher(), batch.Options{
		WaveCooldown: a.Config.Scheduler.WaveCooldown,
	}, a.Logger)

	return b, closeCollectors
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the watcher service needs persistent listing state")
	}
	defer closeStore()

	provider := a.newProvider()
	b, closeCollectors := a.newBatch(store, provider)
	defer closeCollectors()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(sched, provider, b, store, store, store, service.Options{
		Concurrency:     a.Config.Scheduler.Concurrency,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)

	a.Logger.Info().Int("watchers", len(provider.Watchers())).Msg("starting watcher service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	WatcherID string
	ListingID string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	Runs  bool
}

// OnceOptions configure a one-shot sweep.
type OnceOptions struct {
	WatcherID string
}

// SimulateOptions describe a synthetic alert.
type SimulateOptions struct {
	WatcherID     string
	Kind          string
	Title         string
	Price         float64
	PreviousPrice float64
	URL           string
}
