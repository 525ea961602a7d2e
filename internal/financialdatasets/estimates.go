package financialdatasets

import (
	"context"
	"strconv"

	"marketrefresh/internal/models"
)

type estimatesResponse struct {
	AnalystEstimates []models.Fields `json:"analyst_estimates"`
}

// FetchEstimates returns consensus estimates for ticker, as of today
func (c *Client) FetchEstimates(ctx context.Context, ticker, period string) ([]models.EstimateData, error) {
	var resp estimatesResponse
	err := c.get(ctx, "/analyst-estimates/", map[string]string{
		"ticker": upper(ticker),
		"period": period,
	}, &resp)
	if err != nil {
		return nil, err
	}

	asOf := c.clock.Now().UTC()
	out := make([]models.EstimateData, 0, len(resp.AnalystEstimates))
	for _, est := range resp.AnalystEstimates {
		out = append(out, models.EstimateData{
			Ticker:       upper(ticker),
			AsOfDate:     asOf,
			TargetPeriod: targetPeriod(est),
			Estimates:    est,
		})
	}
	return out, nil
}

// targetPeriod formats an estimate's fiscal period as "Q3 2025" or "FY2025"
func targetPeriod(est models.Fields) string {
	year := est.String("fiscal_year")
	if y, ok := est.Int("fiscal_year"); ok {
		year = strconv.Itoa(y)
	}

	switch fp := est.String("fiscal_period"); fp {
	case "Q1", "Q2", "Q3", "Q4":
		return fp + " " + year
	}
	if year == "" {
		return "Unknown"
	}
	return "FY" + year
}
