package refresh

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketrefresh/internal/models"
)

// task builds the per-instrument task for kind
func (c *Coordinator) task(kind Kind, sourceID uuid.UUID) Task[models.Instrument] {
	switch kind {
	case KindOHLCV:
		return c.ohlcvTask(sourceID)
	case KindFundamentals:
		return c.fundamentalsTask(sourceID)
	case KindEstimates:
		return c.estimatesTask(sourceID)
	case KindNews:
		return c.newsTask(sourceID)
	}
	return nil
}

func (c *Coordinator) ohlcvTask(sourceID uuid.UUID) Task[models.Instrument] {
	return func(ctx context.Context, inst models.Instrument) (Outcome, error) {
		end := c.clock.Now().UTC()
		start := end.AddDate(0, 0, -c.cfg.LookbackDays)

		bars, err := c.deps.Prices.FetchPrices(ctx, inst.Symbol, start, end)
		if err != nil {
			return Outcome{}, err
		}
		if len(bars) == 0 {
			return Skipped("no data"), nil
		}

		id := instrumentID(inst)
		recs := make([]models.OHLCVBar, len(bars))
		for i, b := range bars {
			recs[i] = models.NewOHLCVBar(id, sourceID, b)
		}
		n, err := c.deps.Bars.BulkUpsert(ctx, recs)
		if err != nil {
			return Outcome{}, err
		}
		return Success(n), nil
	}
}

// fundamentalsTask stores the latest reported period only
func (c *Coordinator) fundamentalsTask(sourceID uuid.UUID) Task[models.Instrument] {
	return func(ctx context.Context, inst models.Instrument) (Outcome, error) {
		periods, err := c.deps.Statements.FetchStatements(ctx, inst.Symbol, c.cfg.FundamentalsPeriod, 1)
		if err != nil {
			return Outcome{}, err
		}
		if len(periods) == 0 {
			return Skipped("no data"), nil
		}

		rec := models.NewFinancialStatement(instrumentID(inst), sourceID, periods[0])
		if _, err := c.deps.StatementRepo.Upsert(ctx, rec); err != nil {
			return Outcome{}, err
		}
		return Success(1), nil
	}
}

func (c *Coordinator) estimatesTask(sourceID uuid.UUID) Task[models.Instrument] {
	return func(ctx context.Context, inst models.Instrument) (Outcome, error) {
		estimates, err := c.deps.Estimates.FetchEstimates(ctx, inst.Symbol, c.cfg.EstimatesPeriod)
		if err != nil {
			return Outcome{}, err
		}
		if len(estimates) == 0 {
			return Skipped("no data"), nil
		}

		id := instrumentID(inst)
		recs := make([]models.AnalystEstimate, len(estimates))
		for i, e := range estimates {
			recs[i] = models.NewAnalystEstimate(id, sourceID, e)
		}
		n, err := c.deps.EstimateRepo.BulkUpsert(ctx, recs)
		if err != nil {
			return Outcome{}, err
		}
		return Success(n), nil
	}
}

func (c *Coordinator) newsTask(sourceID uuid.UUID) Task[models.Instrument] {
	return func(ctx context.Context, inst models.Instrument) (Outcome, error) {
		items, err := c.deps.News.FetchNews(ctx, inst, c.cfg.NewsMaxPerTicker)
		if err != nil {
			return Outcome{}, err
		}
		if len(items) == 0 {
			return Skipped("no data"), nil
		}

		inst.ID = instrumentID(inst)
		articles := make([]models.NewsArticle, 0, len(items))
		seen := make(map[string]bool, len(items))
		for _, item := range items {
			if item.URL == "" || seen[item.URL] {
				continue
			}
			seen[item.URL] = true
			articles = append(articles, models.NewNewsArticle(inst, sourceID, item))
		}
		if len(articles) == 0 {
			return Skipped("no data"), nil
		}

		n, err := c.deps.NewsRepo.BulkUpsert(ctx, articles)
		if err != nil {
			return Outcome{}, err
		}
		if c.deps.Publisher != nil {
			if err := c.deps.Publisher.PublishNews(ctx, articles); err != nil {
				return Outcome{}, fmt.Errorf("stored %d articles but publishing failed: %w", n, err)
			}
		}
		return Success(n), nil
	}
}

// withFreshness skips entities refreshed within the checker's window
func (c *Coordinator) withFreshness(kind Kind, task Task[models.Instrument]) Task[models.Instrument] {
	if c.deps.Freshness == nil || task == nil {
		return task
	}
	fresh := c.deps.Freshness

	return func(ctx context.Context, inst models.Instrument) (Outcome, error) {
		ok, err := fresh.IsFresh(ctx, string(kind), inst.Key())
		if err != nil {
			c.log.Warn().Err(err).Str("kind", string(kind)).Str("entity", inst.Key()).Msg("freshness check failed")
		} else if ok {
			return Skipped("fresh"), nil
		}

		out, err := task(ctx, inst)
		if err == nil && out.Status == StatusSuccess {
			if err := fresh.Mark(ctx, string(kind), inst.Key()); err != nil {
				c.log.Warn().Err(err).Str("kind", string(kind)).Str("entity", inst.Key()).Msg("failed to mark fresh")
			}
		}
		return out, err
	}
}

func instrumentID(inst models.Instrument) uuid.UUID {
	if inst.ID != uuid.Nil {
		return inst.ID
	}
	return models.InstrumentID(inst.Symbol)
}
