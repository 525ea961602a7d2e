package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateLayout is the wire and storage format for calendar dates
const DateLayout = "2006-01-02"

// PriceBar is one daily bar as returned by a price provider
type PriceBar struct {
	Date     time.Time           `json:"date"`
	Open     decimal.Decimal     `json:"open"`
	High     decimal.Decimal     `json:"high"`
	Low      decimal.Decimal     `json:"low"`
	Close    decimal.Decimal     `json:"close"`
	Volume   int64               `json:"volume"`
	AdjClose decimal.NullDecimal `json:"adjClose"`
}

// StatementData is the combined income, balance and cash flow data for one period
type StatementData struct {
	Ticker     string
	PeriodEnd  time.Time
	PeriodType string // Q1..Q4, FY or TTM
	FiscalYear int
	Income     Fields
	Balance    Fields
	CashFlow   Fields
}

// EstimateData is one analyst consensus estimate for a target period
type EstimateData struct {
	Ticker       string
	AsOfDate     time.Time
	TargetPeriod string // "FY2025", "Q3 2025"
	Estimates    Fields
}

// NewsItem is one headline returned by a news provider
type NewsItem struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Source      string     `json:"source,omitempty"`
}

// OHLCVBar is a persisted daily bar.
// Natural key: instrument × date × data source.
type OHLCVBar struct {
	ID           uuid.UUID           `json:"id"`
	InstrumentID uuid.UUID           `json:"instrumentId"`
	DataSourceID uuid.UUID           `json:"dataSourceId"`
	Date         time.Time           `json:"date"`
	Open         decimal.Decimal     `json:"open"`
	High         decimal.Decimal     `json:"high"`
	Low          decimal.Decimal     `json:"low"`
	Close        decimal.Decimal     `json:"close"`
	Volume       int64               `json:"volume"`
	AdjClose     decimal.NullDecimal `json:"adjClose"`
	PayloadHash  string              `json:"payloadHash"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// NaturalKey returns the bar's natural key parts
func (b OHLCVBar) NaturalKey() []string {
	return []string{b.InstrumentID.String(), b.Date.Format(DateLayout), b.DataSourceID.String()}
}

// NewOHLCVBar builds the persisted form of a provider bar
func NewOHLCVBar(instrumentID, sourceID uuid.UUID, p PriceBar) OHLCVBar {
	b := OHLCVBar{
		InstrumentID: instrumentID,
		DataSourceID: sourceID,
		Date:         truncateDate(p.Date),
		Open:         p.Open,
		High:         p.High,
		Low:          p.Low,
		Close:        p.Close,
		Volume:       p.Volume,
		AdjClose:     p.AdjClose,
	}
	b.ID = NewID("ohlcv", b.NaturalKey()...)
	b.PayloadHash = PayloadHash([]any{
		b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume, b.AdjClose,
	})
	return b
}

// FinancialStatement is a persisted statement period.
// Natural key: instrument × period end × period type.
type FinancialStatement struct {
	ID           uuid.UUID `json:"id"`
	InstrumentID uuid.UUID `json:"instrumentId"`
	DataSourceID uuid.UUID `json:"dataSourceId"`
	PeriodEnd    time.Time `json:"periodEnd"`
	PeriodType   string    `json:"periodType"`
	FiscalYear   int       `json:"fiscalYear"`
	Income       Fields    `json:"incomeStatement"`
	Balance      Fields    `json:"balanceSheet"`
	CashFlow     Fields    `json:"cashFlow"`
	PayloadHash  string    `json:"payloadHash"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NaturalKey returns the statement's natural key parts
func (s FinancialStatement) NaturalKey() []string {
	return []string{s.InstrumentID.String(), s.PeriodEnd.Format(DateLayout), s.PeriodType}
}

// NewFinancialStatement builds the persisted form of provider statement data
func NewFinancialStatement(instrumentID, sourceID uuid.UUID, d StatementData) FinancialStatement {
	s := FinancialStatement{
		InstrumentID: instrumentID,
		DataSourceID: sourceID,
		PeriodEnd:    truncateDate(d.PeriodEnd),
		PeriodType:   d.PeriodType,
		FiscalYear:   d.FiscalYear,
		Income:       orEmpty(d.Income),
		Balance:      orEmpty(d.Balance),
		CashFlow:     orEmpty(d.CashFlow),
	}
	s.ID = NewID("financial_statement", s.NaturalKey()...)
	s.PayloadHash = PayloadHash([]any{s.DataSourceID, s.FiscalYear, s.Income, s.Balance, s.CashFlow})
	return s
}

// AnalystEstimate is a persisted consensus estimate.
// Natural key: instrument × as-of date × target period.
type AnalystEstimate struct {
	ID           uuid.UUID `json:"id"`
	InstrumentID uuid.UUID `json:"instrumentId"`
	DataSourceID uuid.UUID `json:"dataSourceId"`
	AsOfDate     time.Time `json:"asOfDate"`
	TargetPeriod string    `json:"targetPeriod"`
	Estimates    Fields    `json:"estimates"`
	PayloadHash  string    `json:"payloadHash"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NaturalKey returns the estimate's natural key parts
func (e AnalystEstimate) NaturalKey() []string {
	return []string{e.InstrumentID.String(), e.AsOfDate.Format(DateLayout), e.TargetPeriod}
}

// NewAnalystEstimate builds the persisted form of a provider estimate
func NewAnalystEstimate(instrumentID, sourceID uuid.UUID, d EstimateData) AnalystEstimate {
	e := AnalystEstimate{
		InstrumentID: instrumentID,
		DataSourceID: sourceID,
		AsOfDate:     truncateDate(d.AsOfDate),
		TargetPeriod: d.TargetPeriod,
		Estimates:    orEmpty(d.Estimates),
	}
	e.ID = NewID("analyst_estimate", e.NaturalKey()...)
	e.PayloadHash = PayloadHash([]any{e.DataSourceID, e.Estimates})
	return e
}

// NewsArticle is a persisted headline.
// Natural key: instrument × URL.
type NewsArticle struct {
	ID           uuid.UUID  `json:"id"`
	InstrumentID uuid.UUID  `json:"instrumentId"`
	DataSourceID uuid.UUID  `json:"dataSourceId"`
	Symbol       string     `json:"symbol"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	Source       string     `json:"source,omitempty"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	PayloadHash  string     `json:"payloadHash"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NaturalKey returns the article's natural key parts
func (a NewsArticle) NaturalKey() []string {
	return []string{a.InstrumentID.String(), a.URL}
}

// NewNewsArticle builds the persisted form of a news item for an instrument
func NewNewsArticle(inst Instrument, sourceID uuid.UUID, item NewsItem) NewsArticle {
	a := NewsArticle{
		InstrumentID: inst.ID,
		DataSourceID: sourceID,
		Symbol:       inst.Symbol,
		URL:          item.URL,
		Title:        item.Title,
		Source:       item.Source,
	}
	if item.PublishedAt != nil {
		t := item.PublishedAt.UTC()
		a.PublishedAt = &t
	}
	a.ID = NewID("news_article", a.NaturalKey()...)
	a.PayloadHash = PayloadHash([]any{a.DataSourceID, a.Title, a.Source, a.PublishedAt})
	return a
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func orEmpty(f Fields) Fields {
	if f == nil {
		return Fields{}
	}
	return f
}
