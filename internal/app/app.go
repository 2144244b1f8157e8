package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"flightwatch/internal/aggregator"
	"flightwatch/internal/alerting"
	"flightwatch/internal/config"
	"flightwatch/internal/fetcher"
	"flightwatch/internal/logging"
	"flightwatch/internal/monitor"
	"flightwatch/internal/ratelimit"
	"flightwatch/internal/scanner"
	"flightwatch/internal/scheduler"
	"flightwatch/internal/service"
	"flightwatch/internal/status"
	"flightwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	// base is handed to components, which tag it with their own name.
	base zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app"), base: logger}
}

func (a *App) newFetcher() *fetcher.Client {
	src := a.Config.PriceSource
	limiter := ratelimit.New(src.RateLimit, src.RateWindow)
	return fetcher.NewClient(fetcher.Options{
		BaseURL:      src.BaseURL,
		Token:        src.Token,
		Currency:     src.Currency,
		Timeout:      src.RequestTimeout,
		UserAgent:    src.UserAgent,
		MaxRetries:   src.MaxRetries,
		RetryMaxWait: src.RetryMaxWait,
	}, limiter, a.base)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(alerting.TelegramOptions{
			BotToken:          cfg.BotToken,
			ChatID:            cfg.ChatID,
			APIBase:           cfg.APIBase,
			Timeout:           cfg.Timeout,
			MessagesPerMinute: cfg.MessagesPerMinute,
		}, a.base)
	}
	a.Logger.Warn().Msg("alerting.telegram disabled; alerts will only be logged")
	return alerting.NewLogNotifier(a.base)
}

func (a *App) newMonitor(store storage.BaselineStore, notifier alerting.Notifier) (*monitor.Monitor, error) {
	return monitor.New(store, notifier, monitor.Options{
		HistoryDays: a.Config.Monitor.HistoryDays,
		Threshold:   decimal.NewFromFloat(a.Config.Monitor.Threshold),
		Cooldown:    a.Config.Alerting.Cooldown,
		Currency:    a.Config.Alerting.Currency,
	}, a.base)
}

func (a *App) newAggregator(store *storage.Store) *aggregator.Aggregator {
	return aggregator.New(store, store, aggregator.Options{
		GracePeriod: a.Config.Aggregator.GracePeriod,
		CatchUpDays: a.Config.Aggregator.CatchUpDays,
	}, a.base)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn not configured")
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

// Run executes the long-running scan and aggregation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if a.Config.Database.AutoMigrate {
		pool, _ := store.Pool()
		if err := storage.Migrate(ctx, pool, a.base); err != nil {
			return err
		}
	}

	var checker scanner.Checker
	if a.Config.Monitor.Enabled {
		mon, err := a.newMonitor(store, a.newNotifier())
		if err != nil {
			return err
		}
		checker = mon
	} else {
		a.Logger.Warn().Msg("monitor disabled; observations will not be evaluated")
	}

	sc := scanner.New(scanner.Options{
		Origins:       a.Config.Scanner.Origins,
		Destinations:  a.Config.Scanner.Destinations,
		DaysAhead:     a.Config.Scanner.DaysAhead,
		RoundTripDays: a.Config.Scanner.RoundTripDays,
		Workers:       a.Config.Scanner.Workers,
	}, a.newFetcher(), store, checker, a.base)

	scanSched := scheduler.New(scheduler.Options{
		Name:          "scan",
		Interval:      a.Config.Scanner.Interval,
		RetryInterval: a.Config.Scanner.Interval,
		StartupDelay:  a.Config.Scanner.StartupDelay,
	}, a.base)
	aggSched := scheduler.New(scheduler.Options{
		Name:          "aggregate",
		Interval:      a.Config.Aggregator.Interval,
		RetryInterval: a.Config.Aggregator.RetryInterval,
	}, a.base)

	svc := service.New(scanSched, aggSched, sc, a.newAggregator(store), a.base)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return svc.Run(groupCtx)
	})
	if addr := a.Config.Status.ListenAddr; addr != "" {
		group.Go(func() error {
			return status.New(addr, svc, a.base).Run(groupCtx)
		})
	}

	a.Logger.Info().
		Strs("origins", a.Config.Scanner.Origins).
		Strs("destinations", a.Config.Scanner.Destinations).
		Int("days_ahead", a.Config.Scanner.DaysAhead).
		Ints("round_trip_days", a.Config.Scanner.RoundTripDays).
		Msg("starting flight price service")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("flight price service stopped")
	return nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	pool, err := store.Pool()
	if err != nil {
		return err
	}
	return storage.Migrate(ctx, pool, a.base)
}

// ExportOptions hold parameters for exporting a route's baseline history.
type ExportOptions struct {
	Origin      string
	Destination string
	From        *time.Time
	To          *time.Time
	PNGPath     string
	CSVPath     string
	HistoryDays int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Baselines bool
}

// AggregateOptions configure a manual aggregation pass.
type AggregateOptions struct {
	Day   *time.Time
	Force bool
}
