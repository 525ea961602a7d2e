package financialdatasets

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"marketrefresh/internal/fetcher"
	"marketrefresh/internal/models"
)

type statementEndpoint struct {
	path  string
	key   string
	apply func(*models.StatementData, models.Fields)
}

var statementEndpoints = []statementEndpoint{
	{"/financials/income-statements/", "income_statements", func(d *models.StatementData, f models.Fields) { d.Income = f }},
	{"/financials/balance-sheets/", "balance_sheets", func(d *models.StatementData, f models.Fields) { d.Balance = f }},
	{"/financials/cash-flow-statements/", "cash_flow_statements", func(d *models.StatementData, f models.Fields) { d.CashFlow = f }},
}

// FetchStatements fetches income statements, balance sheets and cash flow
// statements and merges them by report period, most recent first
func (c *Client) FetchStatements(ctx context.Context, ticker, period string, limit int) ([]models.StatementData, error) {
	if limit <= 0 {
		limit = 1
	}
	query := map[string]string{
		"ticker": upper(ticker),
		"period": period,
		"limit":  strconv.Itoa(limit),
	}

	byPeriod := make(map[string]*models.StatementData)
	for _, ep := range statementEndpoints {
		var resp map[string]json.RawMessage
		if err := c.get(ctx, ep.path, query, &resp); err != nil {
			return nil, err
		}
		var stmts []models.Fields
		if raw, ok := resp[ep.key]; ok {
			if err := json.Unmarshal(raw, &stmts); err != nil {
				return nil, fetcher.NewDecodeError(err)
			}
		}

		for _, stmt := range stmts {
			reported := stmt.String("report_period")
			if reported == "" {
				continue
			}
			d, ok := byPeriod[reported]
			if !ok {
				end, err := parseDate(reported)
				if err != nil {
					c.log.Warn().Err(err).Str("ticker", ticker).Str("endpoint", ep.path).Msg("skipping statement")
					continue
				}
				d = &models.StatementData{
					Ticker:     upper(ticker),
					PeriodEnd:  end,
					PeriodType: periodType(stmt, period, end),
					FiscalYear: fiscalYear(stmt, end),
				}
				byPeriod[reported] = d
			}
			ep.apply(d, stmt)
		}
	}

	out := make([]models.StatementData, 0, len(byPeriod))
	for _, d := range byPeriod {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodEnd.After(out[j].PeriodEnd) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// periodType maps a requested period to Q1..Q4, FY or TTM.
// Quarterly statements without a fiscal period use the calendar quarter of end.
func periodType(stmt models.Fields, period string, end time.Time) string {
	switch period {
	case "annual":
		return "FY"
	case "ttm":
		return "TTM"
	}
	switch fp := stmt.String("fiscal_period"); fp {
	case "Q1", "Q2", "Q3", "Q4":
		return fp
	}
	return "Q" + strconv.Itoa((int(end.Month())-1)/3+1)
}

func fiscalYear(stmt models.Fields, end time.Time) int {
	if y, ok := stmt.Int("fiscal_year"); ok {
		return y
	}
	if y, err := strconv.Atoi(stmt.String("fiscal_year")); err == nil {
		return y
	}
	return end.Year()
}
