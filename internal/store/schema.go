package store

// schema is portable between sqlite and postgres: dates are ISO text,
// timestamps are unix milliseconds, decimals and JSON documents are text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS instruments (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		asset_class TEXT NOT NULL,
		exchange TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL DEFAULT 'USD',
		sector TEXT NOT NULL DEFAULT '',
		industry TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		payload_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_instruments_sector ON instruments (sector)`,

	`CREATE TABLE IF NOT EXISTS data_sources (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		base_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		payload_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS ohlcv_bars (
		id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL REFERENCES instruments (id),
		data_source_id TEXT NOT NULL REFERENCES data_sources (id),
		ts TEXT NOT NULL,
		open TEXT NOT NULL,
		high TEXT NOT NULL,
		low TEXT NOT NULL,
		close TEXT NOT NULL,
		volume BIGINT NOT NULL CHECK (volume >= 0),
		adj_close TEXT,
		payload_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT uq_ohlcv_instrument_ts_source UNIQUE (instrument_id, ts, data_source_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_ohlcv_instrument_ts ON ohlcv_bars (instrument_id, ts)`,

	`CREATE TABLE IF NOT EXISTS financial_statements (
		id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL REFERENCES instruments (id),
		data_source_id TEXT NOT NULL REFERENCES data_sources (id),
		period_end TEXT NOT NULL,
		period_type TEXT NOT NULL,
		fiscal_year INTEGER NOT NULL,
		income_statement TEXT NOT NULL,
		balance_sheet TEXT NOT NULL,
		cash_flow TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT uq_financial_instrument_period UNIQUE (instrument_id, period_end, period_type)
	)`,

	`CREATE TABLE IF NOT EXISTS analyst_estimates (
		id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL REFERENCES instruments (id),
		data_source_id TEXT NOT NULL REFERENCES data_sources (id),
		as_of_date TEXT NOT NULL,
		target_period TEXT NOT NULL,
		estimates TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT uq_estimate_instrument_date_target UNIQUE (instrument_id, as_of_date, target_period)
	)`,

	`CREATE TABLE IF NOT EXISTS news_articles (
		id TEXT PRIMARY KEY,
		instrument_id TEXT NOT NULL REFERENCES instruments (id),
		data_source_id TEXT NOT NULL REFERENCES data_sources (id),
		symbol TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		published_at BIGINT,
		payload_hash TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		CONSTRAINT uq_news_instrument_url UNIQUE (instrument_id, url)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_news_published ON news_articles (instrument_id, published_at)`,
}
