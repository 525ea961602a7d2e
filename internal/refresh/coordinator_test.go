package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketrefresh/internal/models"
	"marketrefresh/internal/store"
	"marketrefresh/internal/testutil"
)

type staticSources map[string]uuid.UUID

func (s staticSources) LookupID(_ context.Context, name string) (uuid.UUID, error) {
	id, ok := s[name]
	if !ok {
		return uuid.Nil, store.ErrNotFound
	}
	return id, nil
}

type memoryFreshness struct {
	mu    sync.Mutex
	fresh map[string]bool
	err   error
}

func (m *memoryFreshness) IsFresh(_ context.Context, kind, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.fresh[kind+"/"+key], nil
}

func (m *memoryFreshness) Mark(_ context.Context, kind, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fresh == nil {
		m.fresh = map[string]bool{}
	}
	m.fresh[kind+"/"+key] = true
	return nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []models.NewsArticle
	err       error
}

func (p *recordingPublisher) PublishNews(_ context.Context, articles []models.NewsArticle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, articles...)
	return nil
}

func naturalKey[T interface{ NaturalKey() []string }](rec T) string {
	return strings.Join(rec.NaturalKey(), "|")
}

type fixture struct {
	prices     *testutil.MockPriceFetcher
	statements *testutil.MockStatementFetcher
	estimates  *testutil.MockEstimateFetcher
	news       *testutil.MockNewsFetcher

	bars      *testutil.MemoryUpserter[models.OHLCVBar]
	stmts     *testutil.MemoryUpserter[models.FinancialStatement]
	ests      *testutil.MemoryUpserter[models.AnalystEstimate]
	articles  *testutil.MemoryUpserter[models.NewsArticle]
	sources   staticSources
	clock     *testutil.FakeClock
	callOrder []string
	mu        sync.Mutex
}

func newFixture() *fixture {
	f := &fixture{
		prices:     &testutil.MockPriceFetcher{},
		statements: &testutil.MockStatementFetcher{},
		estimates:  &testutil.MockEstimateFetcher{},
		news:       &testutil.MockNewsFetcher{},
		bars:       testutil.NewMemoryUpserter(naturalKey[models.OHLCVBar]),
		stmts:      testutil.NewMemoryUpserter(naturalKey[models.FinancialStatement]),
		ests:       testutil.NewMemoryUpserter(naturalKey[models.AnalystEstimate]),
		articles:   testutil.NewMemoryUpserter(naturalKey[models.NewsArticle]),
		sources: staticSources{
			models.SourceFinancialDatasets: models.DataSourceID(models.SourceFinancialDatasets),
			models.SourceGoogleNews:        models.DataSourceID(models.SourceGoogleNews),
		},
		clock: testutil.NewFrozenClock(epoch),
	}

	f.prices.FetchFunc = func(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
		f.called("ohlcv")
		return []models.PriceBar{
			{Date: end.AddDate(0, 0, -1), Open: decimal.NewFromInt(10), High: decimal.NewFromInt(12), Low: decimal.NewFromInt(9), Close: decimal.NewFromInt(11), Volume: 100},
			{Date: end, Open: decimal.NewFromInt(11), High: decimal.NewFromInt(13), Low: decimal.NewFromInt(10), Close: decimal.NewFromInt(12), Volume: 200},
		}, nil
	}
	f.statements.FetchFunc = func(ctx context.Context, ticker, period string, limit int) ([]models.StatementData, error) {
		f.called("fundamentals")
		return []models.StatementData{
			{Ticker: ticker, PeriodEnd: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), PeriodType: "Q4", FiscalYear: 2023, Income: models.Fields{"revenue": 1.0}},
			{Ticker: ticker, PeriodEnd: time.Date(2023, 9, 30, 0, 0, 0, 0, time.UTC), PeriodType: "Q3", FiscalYear: 2023},
		}, nil
	}
	f.estimates.FetchFunc = func(ctx context.Context, ticker, period string) ([]models.EstimateData, error) {
		f.called("estimates")
		return []models.EstimateData{
			{Ticker: ticker, AsOfDate: epoch, TargetPeriod: "FY2024", Estimates: models.Fields{"eps": 6.5}},
		}, nil
	}
	f.news.FetchFunc = func(ctx context.Context, inst models.Instrument, max int) ([]models.NewsItem, error) {
		f.called("news")
		return []models.NewsItem{
			{Title: inst.Symbol + " beats", URL: "https://news.example.com/" + inst.Symbol + "/1"},
			{Title: inst.Symbol + " beats (dup)", URL: "https://news.example.com/" + inst.Symbol + "/1"},
			{Title: "no link"},
		}, nil
	}
	return f
}

func (f *fixture) called(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := len(f.callOrder); n == 0 || f.callOrder[n-1] != kind {
		f.callOrder = append(f.callOrder, kind)
	}
}

func (f *fixture) deps() Dependencies {
	return Dependencies{
		Prices:        f.prices,
		Statements:    f.statements,
		Estimates:     f.estimates,
		News:          f.news,
		Bars:          f.bars,
		StatementRepo: f.stmts,
		EstimateRepo:  f.ests,
		NewsRepo:      f.articles,
		Sources:       f.sources,
	}
}

func (f *fixture) totalFetches() int32 {
	return f.prices.Calls.Load() + f.statements.Calls.Load() + f.estimates.Calls.Load() + f.news.Calls.Load()
}

var allEnabled = CoordinatorConfig{
	OHLCVEnabled:        true,
	FundamentalsEnabled: true,
	EstimatesEnabled:    true,
	NewsEnabled:         true,
}

func newTestCoordinator(t *testing.T, f *fixture, cfg CoordinatorConfig, deps Dependencies) *Coordinator {
	t.Helper()
	orch, err := NewOrchestrator(Options{MaxWorkers: 2, BatchSize: 2, BatchDelay: -1}, WithClock(f.clock))
	require.NoError(t, err)
	c, err := NewCoordinator(orch, cfg, deps, WithCoordinatorClock(f.clock))
	require.NoError(t, err)
	return c
}

func TestCoordinator_RunFullProcessesKindsInOrder(t *testing.T) {
	f := newFixture()
	c := newTestCoordinator(t, f, allEnabled, f.deps())

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL", "MSFT", "NVDA"))
	require.NoError(t, err)

	assert.Equal(t, []string{"ohlcv", "fundamentals", "estimates", "news"}, f.callOrder)
	require.Len(t, results, 4)
	for _, k := range Kinds {
		res := results[k]
		assert.Equal(t, k, res.Kind)
		assert.Equal(t, 3, res.Total, k)
		assert.Equal(t, 3, res.Success, k)
	}

	assert.Equal(t, 6, f.bars.Len())
	assert.Equal(t, 6, results[KindOHLCV].RecordsCreated)
	assert.Equal(t, 3, f.stmts.Len(), "only the latest period is stored")
	assert.Equal(t, 3, f.ests.Len())
	assert.Equal(t, 3, f.articles.Len(), "duplicate and empty URLs are dropped")
}

func TestCoordinator_RunFullSkipsDisabledKinds(t *testing.T) {
	f := newFixture()
	c := newTestCoordinator(t, f, CoordinatorConfig{OHLCVEnabled: true, NewsEnabled: true}, f.deps())

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL"))
	require.NoError(t, err)

	assert.Equal(t, []string{"ohlcv", "news"}, f.callOrder)
	assert.Contains(t, results, KindOHLCV)
	assert.Contains(t, results, KindNews)
	assert.NotContains(t, results, KindFundamentals)
	assert.NotContains(t, results, KindEstimates)
}

func TestCoordinator_RunSelective(t *testing.T) {
	f := newFixture()
	c := newTestCoordinator(t, f, allEnabled, f.deps())

	results, err := c.RunSelective(context.Background(), testutil.Instruments("AAPL"), KindNews, KindFundamentals)
	require.NoError(t, err)

	assert.Equal(t, []string{"fundamentals", "news"}, f.callOrder)
	assert.Len(t, results, 2)
	assert.Zero(t, f.prices.Calls.Load())
}

func TestCoordinator_RunSelectiveSkipsDisabledKinds(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	deps.Statements = nil // a disabled kind needs no dependencies
	c := newTestCoordinator(t, f, CoordinatorConfig{NewsEnabled: true}, deps)

	results, err := c.RunSelective(context.Background(), testutil.Instruments("AAPL", "MSFT"), KindNews, KindFundamentals)
	require.NoError(t, err)

	assert.Equal(t, []string{"news"}, f.callOrder)
	assert.Zero(t, f.statements.Calls.Load())
	require.Len(t, results, 2)

	fund := results[KindFundamentals]
	if fund.Kind != KindFundamentals || fund.Skipped != 1 || fund.Total != 0 || fund.Failed != 0 {
		t.Errorf("disabled kind result = %+v, want Skipped=1 and nothing else", fund)
	}
	assert.Equal(t, 2, results[KindNews].Total)
}

func TestCoordinator_NoKinds(t *testing.T) {
	f := newFixture()
	c := newTestCoordinator(t, f, CoordinatorConfig{}, f.deps())

	_, err := c.RunFull(context.Background(), testutil.Instruments("AAPL"))
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Zero(t, f.totalFetches())
}

func TestCoordinator_ConfigurationErrorsBeforeAnyFetch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Dependencies)
		kind   Kind
		reason string
	}{
		{"missing fetcher", func(d *Dependencies) { d.News = nil }, KindNews, "fetcher not configured"},
		{"missing store", func(d *Dependencies) { d.EstimateRepo = nil }, KindEstimates, "store not configured"},
		{"unknown source", func(d *Dependencies) { d.Sources = staticSources{models.SourceFinancialDatasets: uuid.New()} }, KindNews, `data source "google_news" not found`},
		{"no registry", func(d *Dependencies) { d.Sources = nil }, "", "data source registry not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			deps := f.deps()
			tt.mutate(&deps)
			c := newTestCoordinator(t, f, allEnabled, deps)

			results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL", "MSFT"))

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.kind, cfgErr.Kind)
			assert.Equal(t, tt.reason, cfgErr.Reason)
			assert.Nil(t, results)
			assert.Zero(t, f.totalFetches(), "no kind may start when any selected kind is misconfigured")
		})
	}
}

func TestCoordinator_OHLCVWindow(t *testing.T) {
	f := newFixture()
	var gotStart, gotEnd time.Time
	f.prices.FetchFunc = func(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
		gotStart, gotEnd = start, end
		return nil, nil
	}
	c := newTestCoordinator(t, f, CoordinatorConfig{OHLCVEnabled: true, LookbackDays: 7}, f.deps())

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL"))
	require.NoError(t, err)

	assert.Equal(t, epoch, gotEnd)
	assert.Equal(t, epoch.AddDate(0, 0, -7), gotStart)
	assert.Equal(t, 1, results[KindOHLCV].Skipped, "an empty response is skipped, not failed")
}

func TestCoordinator_DefaultsApplied(t *testing.T) {
	f := newFixture()
	c := newTestCoordinator(t, f, CoordinatorConfig{}, f.deps())

	cfg := c.Config()
	assert.Equal(t, 5, cfg.LookbackDays)
	assert.Equal(t, "quarterly", cfg.FundamentalsPeriod)
	assert.Equal(t, "annual", cfg.EstimatesPeriod)
	assert.Equal(t, 5, cfg.NewsMaxPerTicker)
}

func TestCoordinator_FetchErrorsCountAsFailures(t *testing.T) {
	f := newFixture()
	f.statements.FetchFunc = func(ctx context.Context, ticker, period string, limit int) ([]models.StatementData, error) {
		if ticker == "MSFT" {
			return nil, errors.New("upstream error (status 500): HTTP 500")
		}
		return []models.StatementData{{Ticker: ticker, PeriodEnd: epoch, PeriodType: "Q4", FiscalYear: 2023}}, nil
	}
	c := newTestCoordinator(t, f, CoordinatorConfig{FundamentalsEnabled: true}, f.deps())

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL", "MSFT", "NVDA"))
	require.NoError(t, err)

	res := results[KindFundamentals]
	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "MSFT: "))
}

func TestCoordinator_FreshnessSkipsRecentEntities(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	fresh := &memoryFreshness{}
	deps.Freshness = fresh
	c := newTestCoordinator(t, f, CoordinatorConfig{OHLCVEnabled: true}, deps)
	insts := testutil.Instruments("AAPL", "MSFT")

	first, err := c.RunFull(context.Background(), insts)
	require.NoError(t, err)
	assert.Equal(t, 2, first[KindOHLCV].Success)

	second, err := c.RunFull(context.Background(), insts)
	require.NoError(t, err)
	assert.Equal(t, 2, second[KindOHLCV].Skipped)
	assert.Equal(t, int32(2), f.prices.Calls.Load())
}

func TestCoordinator_FreshnessErrorsDoNotBlockRefresh(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	deps.Freshness = &memoryFreshness{err: errors.New("connection refused")}
	c := newTestCoordinator(t, f, CoordinatorConfig{OHLCVEnabled: true}, deps)

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, 1, results[KindOHLCV].Success)
}

func TestCoordinator_PublishesStoredNews(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	pub := &recordingPublisher{}
	deps.Publisher = pub
	c := newTestCoordinator(t, f, CoordinatorConfig{NewsEnabled: true}, deps)

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL", "MSFT"))
	require.NoError(t, err)

	assert.Equal(t, 2, results[KindNews].Success)
	require.Len(t, pub.published, 2)
	for _, a := range pub.published {
		assert.NotEqual(t, uuid.Nil, a.ID)
		assert.Contains(t, a.URL, a.Symbol)
	}
}

func TestCoordinator_PublishFailureIsFailure(t *testing.T) {
	f := newFixture()
	deps := f.deps()
	deps.Publisher = &recordingPublisher{err: errors.New("broker unavailable")}
	c := newTestCoordinator(t, f, CoordinatorConfig{NewsEnabled: true}, deps)

	results, err := c.RunFull(context.Background(), testutil.Instruments("AAPL"))
	require.NoError(t, err)

	res := results[KindNews]
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, f.articles.Len(), "articles stay stored")
	assert.Contains(t, res.Errors[0], "publishing failed")
}

func TestCoordinator_InterruptedStopsLaterKinds(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.prices.FetchFunc = func(_ context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
		cancel()
		return []models.PriceBar{{Date: end, Close: decimal.NewFromInt(1)}}, nil
	}
	c := newTestCoordinator(t, f, allEnabled, f.deps())

	results, err := c.RunFull(ctx, testutil.Instruments("AAPL", "MSFT", "NVDA", "AMZN"))

	require.ErrorIs(t, err, ErrInterrupted)
	require.Contains(t, results, KindOHLCV)
	assert.True(t, results[KindOHLCV].Interrupted)
	assert.Less(t, results[KindOHLCV].Total, 4)
	assert.NotContains(t, results, KindFundamentals)
	assert.Zero(t, f.statements.Calls.Load())
}

func TestConfigurationError_Message(t *testing.T) {
	assert.Equal(t, "configuration error: news: fetcher not configured",
		(&ConfigurationError{Kind: KindNews, Reason: "fetcher not configured"}).Error())
	assert.Equal(t, "configuration error: no data kinds selected",
		fmt.Sprint(&ConfigurationError{Reason: "no data kinds selected"}))
}
