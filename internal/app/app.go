package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"fare-hunter/internal/alerting"
	"fare-hunter/internal/config"
	"fare-hunter/internal/fetcher"
	"fare-hunter/internal/scheduler"
	"fare-hunter/internal/service"
	"fare-hunter/internal/storage"
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

// SweepOptions configures a one-shot sweep.
type SweepOptions struct {
	DryRun bool
}

// ShowOptions configures the recent-quotes listing.
type ShowOptions struct {
	Limit int
}

// ExportOptions configures the price-history export.
type ExportOptions struct {
	Origin      string
	Destination string
	From        *time.Time
	To          *time.Time
	CSVPath     string
	PNGPath     string
	MaxPoints   int
}

// PruneOptions configures alert-ledger cleanup.
type PruneOptions struct {
	OlderThan time.Duration
}

func (a *App) newSearcher() fetcher.FlightSearcher {
	return fetcher.NewAmadeus(fetcher.AmadeusOptions{
		BaseURL:        a.Config.Amadeus.BaseURL,
		APIKey:         a.Config.Amadeus.APIKey,
		APISecret:      a.Config.Amadeus.APISecret,
		RequestTimeout: a.Config.Amadeus.RequestTimeout,
		AuthTimeout:    a.Config.Amadeus.AuthTimeout,
		UserAgent:      a.Config.Amadeus.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatIDs, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
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

// Run executes the long-running fare-watching service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	searcher := a.newSearcher()
	notifier := a.newNotifier()

	var quotes storage.QuoteStore
	var alerts storage.AlertLedger
	if store != nil {
		quotes = store
		alerts = store
	}

	svc := service.New(a.Config, sched, searcher, quotes, alerts, notifier, a.Logger)

	a.Logger.Info().Msg("starting fare-watching service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("fare-watching service stopped")
	return nil
}
