package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/config"
	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/financialdatasets"
	"marketrefresh/internal/freshness"
	"marketrefresh/internal/logger"
	"marketrefresh/internal/metrics"
	"marketrefresh/internal/models"
	"marketrefresh/internal/news"
	"marketrefresh/internal/publish"
	"marketrefresh/internal/refresh"
	"marketrefresh/internal/store"
	"marketrefresh/internal/store/clickhouse"
)

// app holds the components one command invocation works with
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	clock   clock.Clock
	db      *store.DB
	metrics *metrics.Recorder

	instruments *store.InstrumentStore
	sources     *store.DataSourceStore

	closers []func() error
}

// setup loads configuration, builds the logger and opens the database
func setup(ctx context.Context, g *globalFlags) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		clock:   clock.System{},
		metrics: metrics.New(),
	}

	db, err := store.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	a.instruments = store.NewInstrumentStore(db)
	a.sources = store.NewDataSourceStore(db)
	a.closers = append(a.closers, db.Close)
	return a, nil
}

// Close releases everything the app opened, most recent first
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// dataSources lists the upstream providers refreshes are attributed to
func (a *app) dataSources() []models.DataSource {
	return []models.DataSource{
		{Name: models.SourceFinancialDatasets, Type: "api", BaseURL: a.cfg.FinancialDatasetsBaseURL},
		{Name: models.SourceGoogleNews, Type: "rss", BaseURL: a.cfg.NewsBaseURL},
	}
}

// coordinator wires fetchers, stores and the optional freshness tracker
// and news publisher for the given kinds
func (a *app) coordinator(ctx context.Context, kinds []refresh.Kind) (*refresh.Coordinator, error) {
	cfg := a.cfg
	deps := refresh.Dependencies{
		Sources:       a.sources,
		StatementRepo: store.NewStatementStore(a.db),
		EstimateRepo:  store.NewEstimateStore(a.db),
		NewsRepo:      store.NewNewsStore(a.db),
	}

	if needsFinancialData(kinds) {
		hc := fetcher.NewClient(cfg.FinancialDatasetsClient(),
			fetcher.WithLogger(a.log),
			fetcher.WithRetryHook(a.metrics.RetryHook(models.SourceFinancialDatasets)))
		fd := financialdatasets.New(hc, financialdatasets.WithLogger(a.log))
		a.closers = append(a.closers, fd.Close)
		deps.Prices, deps.Statements, deps.Estimates = fd, fd, fd
	}

	if slices.Contains(kinds, refresh.KindNews) {
		ncfg := cfg.NewsScraper()
		feed := fetcher.NewClient(ncfg.NewClientConfig(),
			fetcher.WithLogger(a.log),
			fetcher.WithRetryHook(a.metrics.RetryHook(models.SourceGoogleNews)))
		scraper := news.New(feed, ncfg, news.WithLogger(a.log))
		a.closers = append(a.closers, scraper.Close)
		deps.News = scraper

		if len(cfg.Kafka.Brokers) > 0 {
			pub, err := publish.NewKafka(cfg.Kafka, publish.WithLogger(a.log))
			if err != nil {
				return nil, &exitError{code: exitUsage, err: err}
			}
			a.closers = append(a.closers, pub.Close)
			deps.Publisher = pub
		}
	}

	if slices.Contains(kinds, refresh.KindOHLCV) {
		bars, err := a.barStore(ctx)
		if err != nil {
			return nil, err
		}
		deps.Bars = bars
	}

	if cfg.Freshness.Enabled {
		kv, err := freshness.NewRedis(ctx, cfg.Redis)
		if err != nil {
			a.log.Warn().Err(err).Msg("freshness tracking disabled")
		} else {
			a.closers = append(a.closers, kv.Close)
			deps.Freshness = freshness.New(kv, cfg.FreshnessTTL())
		}
	}

	orch, err := refresh.NewOrchestrator(cfg.Orchestrator(),
		refresh.WithLogger(a.log),
		refresh.WithRecorder(a.metrics))
	if err != nil {
		return nil, &exitError{code: exitUsage, err: err}
	}
	return refresh.NewCoordinator(orch, cfg.Coordinator(), deps, refresh.WithCoordinatorLogger(a.log))
}

func (a *app) barStore(ctx context.Context) (store.Upserter[models.OHLCVBar], error) {
	if a.cfg.Storage.BarsBackend != config.BarsBackendClickHouse {
		return store.NewBarStore(a.db), nil
	}
	bars, err := clickhouse.Open(ctx, a.cfg.ClickHouse, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, bars.Close)
	return bars, nil
}

// pushMetrics sends the run's metrics to the configured Pushgateway
func (a *app) pushMetrics(ctx context.Context) {
	url := a.cfg.Metrics.PushgatewayURL
	if url == "" {
		return
	}
	if err := a.metrics.Push(ctx, url, a.cfg.Metrics.Job); err != nil {
		a.log.Warn().Err(err).Msg("metrics push failed")
	}
}

func needsFinancialData(kinds []refresh.Kind) bool {
	for _, k := range kinds {
		if k != refresh.KindNews {
			return true
		}
	}
	return false
}
