// Package news scrapes recent headlines about an instrument from the
// Google News RSS search feed.
package news

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"resty.dev/v3"

	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/models"
)

const (
	// DefaultBaseURL is the Google News RSS search endpoint
	DefaultBaseURL = "https://news.google.com/rss/search"
	// DefaultRequestsPerSecond paces feed requests
	DefaultRequestsPerSecond = 2.0

	defaultResolveWorkers = 5
	defaultResolveTimeout = 10 * time.Second
	userAgent             = "Mozilla/5.0 (compatible; marketrefresh/1.0)"
)

// Config configures a Scraper
type Config struct {
	BaseURL           string
	RequestsPerSecond float64
	Timeout           time.Duration
	// ResolveURLs follows feed redirect links to the publisher's article URL.
	ResolveURLs    bool
	ResolveWorkers int
}

// NewClientConfig returns the paced HTTP client configuration for the feed
func (c Config) NewClientConfig() fetcher.ClientConfig {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	rps := c.RequestsPerSecond
	if rps == 0 {
		rps = DefaultRequestsPerSecond
	}
	return fetcher.ClientConfig{
		BaseURL:           base,
		RequestsPerSecond: rps,
		Timeout:           c.Timeout,
		Headers: map[string]string{
			"Accept":     "application/rss+xml, application/xml",
			"User-Agent": userAgent,
		},
	}
}

// Scraper implements fetcher.NewsFetcher
type Scraper struct {
	feed     *fetcher.Client
	resolver *resty.Client
	feedHost string
	resolve  bool
	workers  int
	log      zerolog.Logger
}

var _ fetcher.NewsFetcher = (*Scraper)(nil)

// Option customizes a Scraper
type Option func(*Scraper)

// WithLogger sets the scraper's logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scraper) { s.log = l }
}

// WithResolverTransport replaces the round tripper used to follow article redirects
func WithResolverTransport(rt http.RoundTripper) Option {
	return func(s *Scraper) { s.resolver.SetTransport(rt) }
}

// New creates a scraper that reads the feed through feed
func New(feed *fetcher.Client, cfg Config, opts ...Option) *Scraper {
	workers := cfg.ResolveWorkers
	if workers <= 0 {
		workers = defaultResolveWorkers
	}

	s := &Scraper{
		feed: feed,
		resolver: resty.New().
			SetTimeout(defaultResolveTimeout).
			SetHeader("User-Agent", userAgent).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)),
		resolve: cfg.ResolveURLs,
		workers: workers,
		log:     zerolog.Nop(),
	}
	if u, err := url.Parse(feed.Config().BaseURL); err == nil {
		s.feedHost = u.Host
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "news").Logger()
	return s
}

// Source implements fetcher.Sourced
func (s *Scraper) Source() string {
	return models.SourceGoogleNews
}

// Close releases the scraper's HTTP clients
func (s *Scraper) Close() error {
	s.resolver.Close()
	return s.feed.Close()
}

// Query returns the search query used for an instrument
func Query(inst models.Instrument) string {
	if name := strings.TrimSpace(inst.Name); name != "" {
		return name + " stock"
	}
	return inst.Symbol + " stock"
}

// FetchNews returns up to max headlines about inst, in feed order
func (s *Scraper) FetchNews(ctx context.Context, inst models.Instrument, max int) ([]models.NewsItem, error) {
	if max <= 0 {
		return nil, nil
	}

	resp, err := s.feed.Execute(ctx, fetcher.Request{
		Query: map[string]string{
			"q":    Query(inst),
			"hl":   "en-US",
			"gl":   "US",
			"ceid": "US:en",
		},
	})
	if err != nil {
		return nil, err
	}

	items, err := parseFeed(resp.Body)
	if err != nil {
		return nil, fetcher.NewDecodeError(err)
	}

	// Look at twice as many entries as wanted; some have no link.
	if len(items) > max*2 {
		items = items[:max*2]
	}

	out := make([]models.NewsItem, 0, max)
	for _, it := range items {
		link := strings.TrimSpace(it.Link)
		if link == "" {
			continue
		}
		title := cleanTitle(it.Title)
		if title == "" {
			title = "No title"
		}
		out = append(out, models.NewsItem{
			Title:       title,
			URL:         link,
			PublishedAt: parsePubDate(it.PubDate),
			Source:      strings.TrimSpace(it.Source),
		})
		if len(out) >= max {
			break
		}
	}

	if s.resolve {
		s.resolveAll(ctx, out)
	}

	s.log.Debug().Str("symbol", inst.Symbol).Int("articles", len(out)).Msg("fetched news")
	return out, nil
}

// resolveAll replaces feed redirect links with their final URLs in place.
// A link that fails to resolve is kept as is.
func (s *Scraper) resolveAll(ctx context.Context, items []models.NewsItem) {
	p := pool.New().WithMaxGoroutines(s.workers)
	for i := range items {
		if !s.isRedirectLink(items[i].URL) {
			continue
		}
		p.Go(func() {
			resolved, err := s.resolveURL(ctx, items[i].URL)
			if err != nil {
				s.log.Debug().Err(err).Str("url", items[i].URL).Msg("failed to resolve article url")
				return
			}
			items[i].URL = resolved
		})
	}
	p.Wait()
}

func (s *Scraper) isRedirectLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return u.Host != "" && u.Host == s.feedHost
}

func (s *Scraper) resolveURL(ctx context.Context, link string) (string, error) {
	resp, err := s.resolver.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(link)
	if err != nil {
		return "", err
	}
	if resp.Body != nil {
		resp.Body.Close()
	}
	if resp.RawResponse == nil || resp.RawResponse.Request == nil {
		return link, nil
	}
	return resp.RawResponse.Request.URL.String(), nil
}
