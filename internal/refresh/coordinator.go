package refresh

import (
	"context"
	"errors"
	"fmt"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/models"
	"marketrefresh/internal/store"
)

// CoordinatorConfig selects the kinds a full run refreshes and their parameters
type CoordinatorConfig struct {
	OHLCVEnabled        bool
	LookbackDays        int `default:"5"`
	FundamentalsEnabled bool
	FundamentalsPeriod  string `default:"quarterly"`
	EstimatesEnabled    bool
	EstimatesPeriod     string `default:"annual"`
	NewsEnabled         bool
	NewsMaxPerTicker    int `default:"5"`
}

// Enabled reports whether a full run includes kind
func (c CoordinatorConfig) Enabled(kind Kind) bool {
	switch kind {
	case KindOHLCV:
		return c.OHLCVEnabled
	case KindFundamentals:
		return c.FundamentalsEnabled
	case KindEstimates:
		return c.EstimatesEnabled
	case KindNews:
		return c.NewsEnabled
	}
	return false
}

// EnabledKinds returns the kinds a full run refreshes, in run order
func (c CoordinatorConfig) EnabledKinds() []Kind {
	var out []Kind
	for _, k := range Kinds {
		if c.Enabled(k) {
			out = append(out, k)
		}
	}
	return out
}

// Describe returns a short summary of a kind's parameters
func (c CoordinatorConfig) Describe(kind Kind) string {
	switch kind {
	case KindOHLCV:
		return fmt.Sprintf("lookback=%dd", c.LookbackDays)
	case KindFundamentals:
		return fmt.Sprintf("period=%s", c.FundamentalsPeriod)
	case KindEstimates:
		return fmt.Sprintf("period=%s", c.EstimatesPeriod)
	case KindNews:
		return fmt.Sprintf("max_per_ticker=%d", c.NewsMaxPerTicker)
	}
	return ""
}

// SourceResolver maps a data source name to its stored ID
type SourceResolver interface {
	LookupID(ctx context.Context, name string) (uuid.UUID, error)
}

// FreshnessChecker remembers which entities were refreshed recently
type FreshnessChecker interface {
	IsFresh(ctx context.Context, kind, key string) (bool, error)
	Mark(ctx context.Context, kind, key string) error
}

// NewsPublisher forwards stored news articles to downstream consumers
type NewsPublisher interface {
	PublishNews(ctx context.Context, articles []models.NewsArticle) error
}

// Dependencies are the collaborators a Coordinator drives.
// A kind can only run when both its fetcher and its store are set.
type Dependencies struct {
	Prices     fetcher.PriceFetcher
	Statements fetcher.StatementFetcher
	Estimates  fetcher.EstimateFetcher
	News       fetcher.NewsFetcher

	Bars          store.Upserter[models.OHLCVBar]
	StatementRepo store.Upserter[models.FinancialStatement]
	EstimateRepo  store.Upserter[models.AnalystEstimate]
	NewsRepo      store.Upserter[models.NewsArticle]

	Sources SourceResolver

	// Optional
	Freshness FreshnessChecker
	Publisher NewsPublisher
}

// Coordinator refreshes each kind in turn over one instrument set
type Coordinator struct {
	orch  *Orchestrator
	cfg   CoordinatorConfig
	deps  Dependencies
	clock clock.Clock
	log   zerolog.Logger
}

// CoordinatorOption customizes a Coordinator
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock sets the time source for date windows
func WithCoordinatorClock(c clock.Clock) CoordinatorOption {
	return func(co *Coordinator) { co.clock = c }
}

// WithCoordinatorLogger sets the coordinator's logger
func WithCoordinatorLogger(l zerolog.Logger) CoordinatorOption {
	return func(co *Coordinator) { co.log = l }
}

// NewCoordinator creates a coordinator
func NewCoordinator(orch *Orchestrator, cfg CoordinatorConfig, deps Dependencies, opts ...CoordinatorOption) (*Coordinator, error) {
	if orch == nil {
		return nil, &ConfigurationError{Reason: "orchestrator not configured"}
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply coordinator defaults: %w", err)
	}

	c := &Coordinator{
		orch:  orch,
		cfg:   cfg,
		deps:  deps,
		clock: clock.System{},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "coordinator").Logger()
	return c, nil
}

// Config returns the effective configuration
func (c *Coordinator) Config() CoordinatorConfig {
	return c.cfg
}

// RunFull refreshes every enabled kind
func (c *Coordinator) RunFull(ctx context.Context, instruments []models.Instrument) (map[Kind]Result, error) {
	kinds := c.cfg.EnabledKinds()
	if len(kinds) == 0 {
		return nil, &ConfigurationError{Reason: "no data kinds enabled"}
	}
	return c.run(ctx, instruments, kinds)
}

// RunSelective refreshes only the given kinds, in run order.
// A selected kind that is disabled in the configuration is reported as
// skipped without any work being dispatched for it.
func (c *Coordinator) RunSelective(ctx context.Context, instruments []models.Instrument, kinds ...Kind) (map[Kind]Result, error) {
	if len(kinds) == 0 {
		return nil, &ConfigurationError{Reason: "no data kinds selected"}
	}
	return c.run(ctx, instruments, ordered(kinds))
}

func (c *Coordinator) run(ctx context.Context, instruments []models.Instrument, kinds []Kind) (map[Kind]Result, error) {
	var active []Kind
	for _, kind := range kinds {
		if c.cfg.Enabled(kind) {
			active = append(active, kind)
		}
	}

	tasks, err := c.prepare(ctx, active)
	if err != nil {
		return nil, err
	}

	c.log.Info().
		Int("instruments", len(instruments)).
		Strs("kinds", kindNames(kinds)).
		Msg("starting refresh")

	results := make(map[Kind]Result, len(kinds))
	for _, kind := range kinds {
		if ctx.Err() != nil {
			break
		}
		if !c.cfg.Enabled(kind) {
			c.log.Info().Msgf("%s: disabled, skipping", kind)
			results[kind] = Result{Kind: kind, Skipped: 1}
			continue
		}
		res := Run(ctx, c.orch, kind, instruments, tasks[kind])
		results[kind] = res
		c.log.Info().Msgf("%s: %d/%d (%.1f%%), failed: %d",
			kind, res.Success, res.Total, res.SuccessRate(), res.Failed)
	}

	if ctx.Err() != nil {
		return results, ErrInterrupted
	}
	return results, nil
}

// prepare verifies every selected kind's dependencies before any work starts
func (c *Coordinator) prepare(ctx context.Context, kinds []Kind) (map[Kind]Task[models.Instrument], error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	if c.deps.Sources == nil {
		return nil, &ConfigurationError{Reason: "data source registry not configured"}
	}

	tasks := make(map[Kind]Task[models.Instrument], len(kinds))
	for _, kind := range kinds {
		var (
			src     fetcher.Sourced
			hasRepo bool
		)
		switch kind {
		case KindOHLCV:
			src, hasRepo = fetcher.Sourced(c.deps.Prices), c.deps.Bars != nil
		case KindFundamentals:
			src, hasRepo = fetcher.Sourced(c.deps.Statements), c.deps.StatementRepo != nil
		case KindEstimates:
			src, hasRepo = fetcher.Sourced(c.deps.Estimates), c.deps.EstimateRepo != nil
		case KindNews:
			src, hasRepo = fetcher.Sourced(c.deps.News), c.deps.NewsRepo != nil
		default:
			return nil, &ConfigurationError{Kind: kind, Reason: "unknown data kind"}
		}
		if src == nil {
			return nil, &ConfigurationError{Kind: kind, Reason: "fetcher not configured"}
		}
		if !hasRepo {
			return nil, &ConfigurationError{Kind: kind, Reason: "store not configured"}
		}

		sourceID, err := c.deps.Sources.LookupID(ctx, src.Source())
		if errors.Is(err, store.ErrNotFound) {
			return nil, &ConfigurationError{Kind: kind, Reason: fmt.Sprintf("data source %q not found", src.Source())}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data source for %s: %w", kind, err)
		}

		tasks[kind] = c.withFreshness(kind, c.task(kind, sourceID))
	}
	return tasks, nil
}

func kindNames(kinds []Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
