package financialdatasets

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketrefresh/internal/models"
)

type priceResponse struct {
	Prices []priceWire `json:"prices"`
}

type priceWire struct {
	Time     string              `json:"time"`
	Open     decimal.Decimal     `json:"open"`
	High     decimal.Decimal     `json:"high"`
	Low      decimal.Decimal     `json:"low"`
	Close    decimal.Decimal     `json:"close"`
	Volume   decimal.Decimal     `json:"volume"`
	AdjClose decimal.NullDecimal `json:"adj_close"`
}

// FetchPrices returns daily bars for ticker between start and end, inclusive
func (c *Client) FetchPrices(ctx context.Context, ticker string, start, end time.Time) ([]models.PriceBar, error) {
	var resp priceResponse
	err := c.get(ctx, "/prices/", map[string]string{
		"ticker":              upper(ticker),
		"interval":            "day",
		"interval_multiplier": "1",
		"start_date":          start.Format(models.DateLayout),
		"end_date":            end.Format(models.DateLayout),
	}, &resp)
	if err != nil {
		return nil, err
	}

	bars := make([]models.PriceBar, 0, len(resp.Prices))
	for _, p := range resp.Prices {
		bar, err := p.toBar()
		if err != nil {
			c.log.Warn().Err(err).Str("ticker", ticker).Msg("skipping malformed price bar")
			continue
		}
		bars = append(bars, bar)
	}

	c.log.Debug().Str("ticker", ticker).Int("bars", len(bars)).Msg("fetched prices")
	return bars, nil
}

func (p priceWire) toBar() (models.PriceBar, error) {
	date, err := parseDate(p.Time)
	if err != nil {
		return models.PriceBar{}, err
	}
	return models.PriceBar{
		Date:     date,
		Open:     p.Open,
		High:     p.High,
		Low:      p.Low,
		Close:    p.Close,
		Volume:   p.Volume.IntPart(),
		AdjClose: p.AdjClose,
	}, nil
}

// parseDate accepts a date or a timestamp and keeps the calendar date
func parseDate(s string) (time.Time, error) {
	if len(s) < len(models.DateLayout) {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse(models.DateLayout, s[:len(models.DateLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}
