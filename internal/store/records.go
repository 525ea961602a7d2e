package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"marketrefresh/internal/models"
)

// BarStore persists daily OHLCV bars
type BarStore struct {
	*table[models.OHLCVBar]
}

// NewBarStore creates a bar store on db
func NewBarStore(db *DB) *BarStore {
	return &BarStore{newTable(db, "ohlcv_bars",
		[]string{"id", "instrument_id", "data_source_id", "ts", "open", "high", "low", "close",
			"volume", "adj_close", "payload_hash", "created_at", "updated_at"},
		[]string{"instrument_id", "ts", "data_source_id"},
		func(b models.OHLCVBar, now int64) []any {
			return []any{b.ID, b.InstrumentID, b.DataSourceID, b.Date.Format(models.DateLayout),
				b.Open, b.High, b.Low, b.Close, b.Volume, b.AdjClose, b.PayloadHash, now, now}
		},
		func(row scanner) (models.OHLCVBar, error) {
			var (
				b                models.OHLCVBar
				ts               string
				created, updated int64
			)
			err := row.Scan(&b.ID, &b.InstrumentID, &b.DataSourceID, &ts, &b.Open, &b.High, &b.Low,
				&b.Close, &b.Volume, &b.AdjClose, &b.PayloadHash, &created, &updated)
			if err != nil {
				return b, err
			}
			if b.Date, err = parseDate(ts); err != nil {
				return b, err
			}
			b.CreatedAt, b.UpdatedAt = fromMillis(created), fromMillis(updated)
			return b, nil
		},
	)}
}

// ListByInstrument returns an instrument's bars, oldest first
func (s *BarStore) ListByInstrument(ctx context.Context, instrumentID uuid.UUID) ([]models.OHLCVBar, error) {
	return s.list(ctx, "instrument_id = ? ORDER BY ts", instrumentID)
}

// Count returns the number of stored bars
func (s *BarStore) Count(ctx context.Context) (int, error) {
	return s.count(ctx)
}

// StatementStore persists financial statement periods
type StatementStore struct {
	*table[models.FinancialStatement]
}

// NewStatementStore creates a statement store on db
func NewStatementStore(db *DB) *StatementStore {
	return &StatementStore{newTable(db, "financial_statements",
		[]string{"id", "instrument_id", "data_source_id", "period_end", "period_type", "fiscal_year",
			"income_statement", "balance_sheet", "cash_flow", "payload_hash", "created_at", "updated_at"},
		[]string{"instrument_id", "period_end", "period_type"},
		func(s models.FinancialStatement, now int64) []any {
			return []any{s.ID, s.InstrumentID, s.DataSourceID, s.PeriodEnd.Format(models.DateLayout),
				s.PeriodType, s.FiscalYear, s.Income, s.Balance, s.CashFlow, s.PayloadHash, now, now}
		},
		func(row scanner) (models.FinancialStatement, error) {
			var (
				s                models.FinancialStatement
				periodEnd        string
				created, updated int64
			)
			err := row.Scan(&s.ID, &s.InstrumentID, &s.DataSourceID, &periodEnd, &s.PeriodType,
				&s.FiscalYear, &s.Income, &s.Balance, &s.CashFlow, &s.PayloadHash, &created, &updated)
			if err != nil {
				return s, err
			}
			if s.PeriodEnd, err = parseDate(periodEnd); err != nil {
				return s, err
			}
			s.CreatedAt, s.UpdatedAt = fromMillis(created), fromMillis(updated)
			return s, nil
		},
	)}
}

// ListByInstrument returns an instrument's statements, latest period first
func (s *StatementStore) ListByInstrument(ctx context.Context, instrumentID uuid.UUID) ([]models.FinancialStatement, error) {
	return s.list(ctx, "instrument_id = ? ORDER BY period_end DESC", instrumentID)
}

// EstimateStore persists analyst estimates
type EstimateStore struct {
	*table[models.AnalystEstimate]
}

// NewEstimateStore creates an estimate store on db
func NewEstimateStore(db *DB) *EstimateStore {
	return &EstimateStore{newTable(db, "analyst_estimates",
		[]string{"id", "instrument_id", "data_source_id", "as_of_date", "target_period", "estimates",
			"payload_hash", "created_at", "updated_at"},
		[]string{"instrument_id", "as_of_date", "target_period"},
		func(e models.AnalystEstimate, now int64) []any {
			return []any{e.ID, e.InstrumentID, e.DataSourceID, e.AsOfDate.Format(models.DateLayout),
				e.TargetPeriod, e.Estimates, e.PayloadHash, now, now}
		},
		func(row scanner) (models.AnalystEstimate, error) {
			var (
				e                models.AnalystEstimate
				asOf             string
				created, updated int64
			)
			err := row.Scan(&e.ID, &e.InstrumentID, &e.DataSourceID, &asOf, &e.TargetPeriod,
				&e.Estimates, &e.PayloadHash, &created, &updated)
			if err != nil {
				return e, err
			}
			if e.AsOfDate, err = parseDate(asOf); err != nil {
				return e, err
			}
			e.CreatedAt, e.UpdatedAt = fromMillis(created), fromMillis(updated)
			return e, nil
		},
	)}
}

// ListByInstrument returns an instrument's estimates, newest first
func (s *EstimateStore) ListByInstrument(ctx context.Context, instrumentID uuid.UUID) ([]models.AnalystEstimate, error) {
	return s.list(ctx, "instrument_id = ? ORDER BY as_of_date DESC, target_period", instrumentID)
}

// NewsStore persists news headlines
type NewsStore struct {
	*table[models.NewsArticle]
}

// NewNewsStore creates a news store on db
func NewNewsStore(db *DB) *NewsStore {
	return &NewsStore{newTable(db, "news_articles",
		[]string{"id", "instrument_id", "data_source_id", "symbol", "url", "title", "source",
			"published_at", "payload_hash", "created_at", "updated_at"},
		[]string{"instrument_id", "url"},
		func(a models.NewsArticle, now int64) []any {
			var published sql.NullInt64
			if a.PublishedAt != nil {
				published = sql.NullInt64{Int64: a.PublishedAt.UnixMilli(), Valid: true}
			}
			return []any{a.ID, a.InstrumentID, a.DataSourceID, a.Symbol, a.URL, a.Title, a.Source,
				published, a.PayloadHash, now, now}
		},
		func(row scanner) (models.NewsArticle, error) {
			var (
				a                models.NewsArticle
				published        sql.NullInt64
				created, updated int64
			)
			err := row.Scan(&a.ID, &a.InstrumentID, &a.DataSourceID, &a.Symbol, &a.URL, &a.Title,
				&a.Source, &published, &a.PayloadHash, &created, &updated)
			if err != nil {
				return a, err
			}
			if published.Valid {
				t := fromMillis(published.Int64)
				a.PublishedAt = &t
			}
			a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
			return a, nil
		},
	)}
}

// ListBySymbol returns an instrument's headlines, most recent first
func (s *NewsStore) ListBySymbol(ctx context.Context, symbol string) ([]models.NewsArticle, error) {
	return s.list(ctx, "symbol = ? ORDER BY published_at DESC", models.NormalizeSymbol(symbol))
}

var (
	_ Upserter[models.OHLCVBar]           = (*BarStore)(nil)
	_ Upserter[models.FinancialStatement] = (*StatementStore)(nil)
	_ Upserter[models.AnalystEstimate]    = (*EstimateStore)(nil)
	_ Upserter[models.NewsArticle]        = (*NewsStore)(nil)
)
