// Package financialdatasets fetches prices, financial statements and analyst
// estimates from the Financial Datasets REST API.
package financialdatasets

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/models"
)

// DefaultBaseURL is the public API endpoint
const DefaultBaseURL = "https://api.financialdatasets.ai"

// Client implements the price, statement and estimate fetchers.
// All three share one paced HTTP client, and therefore one request budget.
type Client struct {
	http  *fetcher.Client
	clock clock.Clock
	log   zerolog.Logger
}

var (
	_ fetcher.PriceFetcher     = (*Client)(nil)
	_ fetcher.StatementFetcher = (*Client)(nil)
	_ fetcher.EstimateFetcher  = (*Client)(nil)
)

// Option customizes a Client
type Option func(*Client)

// WithClock sets the clock used for as-of dates
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithLogger sets the client's logger
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// New creates a client on top of an already configured HTTP client
func New(http *fetcher.Client, opts ...Option) *Client {
	c := &Client{
		http:  http,
		clock: clock.System{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "financialdatasets").Logger()
	return c
}

// Source implements fetcher.Sourced
func (c *Client) Source() string {
	return models.SourceFinancialDatasets
}

// Close releases the underlying HTTP client
func (c *Client) Close() error {
	return c.http.Close()
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, result any) error {
	_, err := c.http.Execute(ctx, fetcher.Request{Path: path, Query: query, Result: result})
	return err
}

func upper(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
