package fetcher

import (
	"context"
	"time"

	"marketrefresh/internal/models"
)

// Sourced is implemented by every fetcher.
// Source names the upstream data source the fetched records are attributed to.
type Sourced interface {
	Source() string
}

// PriceFetcher retrieves daily price bars for a ticker in [start, end]
type PriceFetcher interface {
	Sourced
	FetchPrices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error)
}

// StatementFetcher retrieves the most recent statement periods for a ticker.
// period is "quarterly", "annual" or "ttm".
type StatementFetcher interface {
	Sourced
	FetchStatements(ctx context.Context, ticker, period string, limit int) ([]models.StatementData, error)
}

// EstimateFetcher retrieves analyst consensus estimates for a ticker.
// period is "annual" or "quarterly".
type EstimateFetcher interface {
	Sourced
	FetchEstimates(ctx context.Context, ticker, period string) ([]models.EstimateData, error)
}

// NewsFetcher retrieves up to max recent headlines about an instrument
type NewsFetcher interface {
	Sourced
	FetchNews(ctx context.Context, inst models.Instrument, max int) ([]models.NewsItem, error)
}
