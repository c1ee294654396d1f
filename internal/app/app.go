package app

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"feedsync/internal/alerting"
	"feedsync/internal/config"
	"feedsync/internal/envelope"
	"feedsync/internal/fetcher"
	"feedsync/internal/gate"
	"feedsync/internal/httpapi"
	"feedsync/internal/normalize"
	"feedsync/internal/scheduler"
	"feedsync/internal/service"
	"feedsync/internal/storage"
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

func (a *App) location() *time.Location {
	loc, err := a.Config.App.Location()
	if err != nil {
		// Validate already rejected unknown zones
		return time.UTC
	}
	return loc
}

func (a *App) newFetcher() *fetcher.Resilient {
	f := a.Config.Fetch
	return fetcher.NewResilient(fetcher.Options{
		Timeout:       f.Timeout,
		MaxAttempts:   f.MaxAttempts,
		SentinelDelay: f.SentinelDelay,
		NetworkDelay:  f.NetworkDelay,
		Sentinels:     f.Sentinels,
		UserAgent:     f.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegram(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database, a.location())
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	}
	return store, closer, nil
}

func (a *App) deps(gates gate.Store) service.Deps {
	return service.Deps{
		Fetcher:    a.newFetcher(),
		Parser:     envelope.NewParser(),
		Gate:       gate.NewDetector(gates),
		CommitMode: gate.CommitMode(a.Config.Gate.CommitMode),
		Notifier:   a.newNotifier(),
		Logger:     a.Logger,
	}
}

// writer is what the source orchestrators persist into.
type writer interface {
	storage.QuoteWriter
	storage.NewsWriter
}

func (a *App) newSources(deps service.Deps, w writer) map[string]service.Runner {
	loc := a.location()
	quotes := service.NewQuotes(deps, w, service.QuotesOptions{
		Endpoint: a.Config.Quotes.Endpoint,
		Node:     a.Config.Quotes.Node,
		PageSize: a.Config.Quotes.PageSize,
		GateKey:  a.Config.Gate.QuoteKey,
		Location: loc,
	})
	news := service.NewNews(deps, w, service.NewsOptions{
		URL:     a.Config.News.URL,
		GateKey: a.Config.Gate.NewsKey,
		Window: normalize.Window{
			Retention:  a.Config.News.Retention,
			FutureSkew: a.Config.News.FutureSkew,
		},
		Location: loc,
	})
	return map[string]service.Runner{
		service.SourceQuotes: quotes,
		service.SourceNews:   news,
	}
}

func (a *App) newProxy(deps service.Deps) *service.QueryProxy {
	p := a.Config.Proxy
	return service.NewQueryProxy(deps, service.ProxyOptions{
		BaseURL: p.BaseURL,
		Defaults: service.QueryParams{
			SQLID:    p.SQLID,
			Page:     p.Page,
			PageSize: p.PageSize,
			Referer:  p.Referer,
		},
	})
}

// Run executes the long-running scheduling loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:      a.Config.Scheduler.Interval,
		AlignToStart:  a.Config.Scheduler.AlignToBucket,
		StartupDelay:  a.Config.Scheduler.StartupDelay,
		RunOnStart:    a.Config.Scheduler.RunOnStart,
		MaxConcurrent: a.Config.Scheduler.MaxConcurrent,
	}, a.Logger)

	sources := a.newSources(a.deps(store), store)
	svc := service.New(sched, sources, a.Config.Scheduler.Sources, store, a.Config.Scheduler.AdvisoryLockKey, a.Logger)

	a.Logger.Info().Strs("sources", a.Config.Scheduler.Sources).Msg("starting scheduler")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scheduler stopped")
	return nil
}

// Serve runs the HTTP trigger until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	deps := a.deps(store)
	sources := a.newSources(deps, store)
	server := httpapi.NewServer(a.Config.Server, a.Config.Proxy.CookieHeader,
		sources[service.SourceQuotes], sources[service.SourceNews], a.newProxy(deps), a.Logger)

	return server.Run(ctx)
}

// FetchOptions configure a one-off run.
type FetchOptions struct {
	// DryRun uses an in-memory gate and discards records instead of persisting them.
	DryRun bool
}

// Fetch performs a single run of source and returns its result.
func (a *App) Fetch(ctx context.Context, source string, opts FetchOptions) (service.Result, error) {
	var (
		w     writer
		gates gate.Store
	)
	if opts.DryRun {
		w, gates = discard{}, gate.NewMemoryStore()
	} else {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return service.Result{}, err
		}
		defer closeStore()
		w, gates = store, store
	}

	svc := service.New(nil, a.newSources(a.deps(gates), w), nil, nil, 0, a.Logger)
	return svc.RunSource(ctx, source)
}

// Proxy performs one query proxy request and returns the status and body the HTTP trigger would send.
func (a *App) Proxy(ctx context.Context, params service.QueryParams) (int, []byte, error) {
	data, err := a.newProxy(a.deps(gate.NewMemoryStore())).Query(ctx, params)
	status, body := service.ProxyReply(data, err)
	if err == nil {
		return status, data, nil
	}
	raw, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		return status, nil, marshalErr
	}
	return status, raw, nil
}

// discard counts records without writing them.
type discard struct{}

func (discard) UpsertQuotes(_ context.Context, quotes []storage.Quote) (int, error) {
	return len(quotes), nil
}

func (discard) InsertNews(_ context.Context, items []storage.NewsItem) (int, error) {
	return len(items), nil
}

// ExportOptions hold parameters for exporting quote history.
type ExportOptions struct {
	Code      string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Source string
	Limit  int
}
