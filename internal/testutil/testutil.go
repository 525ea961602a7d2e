package testutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketrefresh/internal/models"
)

// MockPriceFetcher is a mock price fetcher for testing
type MockPriceFetcher struct {
	FetchFunc func(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error)
	Calls     atomic.Int32
}

// Source implements fetcher.Sourced
func (m *MockPriceFetcher) Source() string { return models.SourceFinancialDatasets }

// FetchPrices implements fetcher.PriceFetcher
func (m *MockPriceFetcher) FetchPrices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	m.Calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ticker, start, end)
	}
	return nil, nil
}

// MockStatementFetcher is a mock statement fetcher for testing
type MockStatementFetcher struct {
	FetchFunc func(ctx context.Context, ticker, period string, limit int) ([]models.StatementData, error)
	Calls     atomic.Int32
}

// Source implements fetcher.Sourced
func (m *MockStatementFetcher) Source() string { return models.SourceFinancialDatasets }

// FetchStatements implements fetcher.StatementFetcher
func (m *MockStatementFetcher) FetchStatements(ctx context.Context, ticker, period string, limit int) ([]models.StatementData, error) {
	m.Calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ticker, period, limit)
	}
	return nil, nil
}

// MockEstimateFetcher is a mock estimate fetcher for testing
type MockEstimateFetcher struct {
	FetchFunc func(ctx context.Context, ticker, period string) ([]models.EstimateData, error)
	Calls     atomic.Int32
}

// Source implements fetcher.Sourced
func (m *MockEstimateFetcher) Source() string { return models.SourceFinancialDatasets }

// FetchEstimates implements fetcher.EstimateFetcher
func (m *MockEstimateFetcher) FetchEstimates(ctx context.Context, ticker, period string) ([]models.EstimateData, error) {
	m.Calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ticker, period)
	}
	return nil, nil
}

// MockNewsFetcher is a mock news fetcher for testing
type MockNewsFetcher struct {
	FetchFunc func(ctx context.Context, inst models.Instrument, max int) ([]models.NewsItem, error)
	Calls     atomic.Int32
}

// Source implements fetcher.Sourced
func (m *MockNewsFetcher) Source() string { return models.SourceGoogleNews }

// FetchNews implements fetcher.NewsFetcher
func (m *MockNewsFetcher) FetchNews(ctx context.Context, inst models.Instrument, max int) ([]models.NewsItem, error) {
	m.Calls.Add(1)
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, inst, max)
	}
	return nil, nil
}

// MemoryUpserter is an in-memory keyed store for testing
type MemoryUpserter[T any] struct {
	KeyFunc func(T) string
	// FailFunc, when set, can reject a record before it is stored.
	FailFunc func(T) error

	mu      sync.Mutex
	records map[string]T
	writes  int
}

// NewMemoryUpserter creates an in-memory store keyed by key
func NewMemoryUpserter[T any](key func(T) string) *MemoryUpserter[T] {
	return &MemoryUpserter[T]{KeyFunc: key, records: make(map[string]T)}
}

// Upsert implements store.Upserter
func (m *MemoryUpserter[T]) Upsert(ctx context.Context, rec T) (T, error) {
	if m.FailFunc != nil {
		if err := m.FailFunc(rec); err != nil {
			var zero T
			return zero, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[m.KeyFunc(rec)] = rec
	m.writes++
	return rec, nil
}

// BulkUpsert implements store.Upserter
func (m *MemoryUpserter[T]) BulkUpsert(ctx context.Context, recs []T) (int, error) {
	for _, rec := range recs {
		if m.FailFunc != nil {
			if err := m.FailFunc(rec); err != nil {
				return 0, fmt.Errorf("bulk upsert: %w", err)
			}
		}
	}
	for _, rec := range recs {
		if _, err := m.Upsert(ctx, rec); err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}

// Len returns the number of distinct stored keys
func (m *MemoryUpserter[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Writes returns the number of successful writes, including overwrites
func (m *MemoryUpserter[T]) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Get returns the record stored under key
func (m *MemoryUpserter[T]) Get(key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	return rec, ok
}

// Instruments builds active instruments for the given symbols
func Instruments(symbols ...string) []models.Instrument {
	out := make([]models.Instrument, len(symbols))
	for i, s := range symbols {
		out[i] = models.Instrument{
			ID:         models.InstrumentID(s),
			Symbol:     s,
			Name:       s + " Corp",
			AssetClass: "equity",
			Currency:   "USD",
			Active:     true,
		}
	}
	return out
}
