package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Instrument is one tradable symbol in the refresh universe.
// It is the entity the refresh pipeline iterates over and is never mutated by it.
type Instrument struct {
	ID         uuid.UUID `json:"id" yaml:"id"`
	Symbol     string    `json:"symbol" yaml:"symbol" mapstructure:"symbol" validate:"required"`
	Name       string    `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	AssetClass string    `json:"assetClass" yaml:"assetClass" mapstructure:"asset_class" default:"equity"`
	Exchange   string    `json:"exchange,omitempty" yaml:"exchange,omitempty" mapstructure:"exchange"`
	Currency   string    `json:"currency" yaml:"currency" mapstructure:"currency" default:"USD"`
	Sector     string    `json:"sector,omitempty" yaml:"sector,omitempty" mapstructure:"sector"`
	Industry   string    `json:"industry,omitempty" yaml:"industry,omitempty" mapstructure:"industry"`
	Active     bool      `json:"active" yaml:"active" mapstructure:"active" default:"true"`
	CreatedAt  time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Key returns the instrument's symbol
func (i Instrument) Key() string {
	return i.Symbol
}

// NormalizeSymbol upper-cases and trims a ticker symbol
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// InstrumentID derives the stable ID of the instrument with the given symbol
func InstrumentID(symbol string) uuid.UUID {
	return NewID("instrument", NormalizeSymbol(symbol))
}

// DataSource is an upstream data provider
type DataSource struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	BaseURL   string    `json:"baseUrl,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Well-known data source names
const (
	SourceFinancialDatasets = "financialdatasets"
	SourceGoogleNews        = "google_news"
)

// DataSourceID derives the stable ID of the named data source
func DataSourceID(name string) uuid.UUID {
	return NewID("data_source", name)
}
