package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"marketrefresh/internal/models"
	"marketrefresh/internal/store"
)

// upstream fakes the financial data API and the news feed.
// Requests for ticker NOPE fail with 404.
type upstream struct {
	api   *httptest.Server
	feed  *httptest.Server
	hits  atomic.Int32
	feeds atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}

	u.api = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.hits.Add(1)
		if r.URL.Query().Get("ticker") == "NOPE" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"ticker not found"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/prices/":
			w.Write([]byte(`{"prices":[
				{"time":"2024-01-11","open":184.35,"high":186.40,"low":183.92,"close":185.59,"volume":49128400},
				{"time":"2024-01-12","open":186.06,"high":186.74,"low":185.19,"close":185.92,"volume":40444700}
			]}`))
		case "/financials/income-statements/":
			w.Write([]byte(`{"income_statements":[{"report_period":"2023-12-30","fiscal_period":"Q1","fiscal_year":2024,"revenue":119575000000}]}`))
		case "/financials/balance-sheets/":
			w.Write([]byte(`{"balance_sheets":[{"report_period":"2023-12-30","total_assets":353514000000}]}`))
		case "/financials/cash-flow-statements/":
			w.Write([]byte(`{"cash_flow_statements":[{"report_period":"2023-12-30","free_cash_flow":37503000000}]}`))
		case "/analyst-estimates/":
			w.Write([]byte(`{"analyst_estimates":[{"fiscal_year":2024,"fiscal_period":"FY","eps_estimate":6.58}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(u.api.Close)

	u.feed = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.feeds.Add(1)
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel>
			<item><title>Markets rally</title><link>https://publisher.example/markets-rally</link><pubDate>Mon, 15 Jan 2024 14:00:00 GMT</pubDate><source url="https://publisher.example">Publisher</source></item>
			<item><title>Earnings preview</title><link>https://publisher.example/earnings-preview</link><pubDate>Mon, 15 Jan 2024 12:00:00 GMT</pubDate></item>
		</channel></rss>`))
	}))
	t.Cleanup(u.feed.Close)
	return u
}

func (u *upstream) requests() int32 {
	return u.hits.Load() + u.feeds.Load()
}

// workspace writes a config file pointing at the fake upstream and a
// temporary SQLite database, and isolates the process environment.
func workspace(t *testing.T, u *upstream, symbols ...string) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	for _, env := range []string{"FINANCIAL_DATASETS_API_KEY", "FINANCIAL_DATASETS_BASE_URL", "NEWS_BASE_URL",
		"DATABASE_DRIVER", "DATABASE_URL", "KAFKA_BROKERS", "PUSHGATEWAY_URL", "LOG_LEVEL"} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	dbPath = filepath.Join(dir, "market.db")
	var universe strings.Builder
	for i, s := range symbols {
		fmt.Fprintf(&universe, "  - symbol: %s\n    name: %s Corp\n    sector: %s\n", s, s, []string{"Technology", "Energy"}[i%2])
	}

	cfg := fmt.Sprintf(`financial_datasets_api_key: test_api_key
financial_datasets_base_url: %s
news_base_url: %s/rss/search
client:
  requests_per_second: 1000
pipeline:
  max_workers: 4
  batch_size: 2
  batch_delay_seconds: 0
news:
  requests_per_second: 1000
  max_per_ticker: 5
database:
  driver: sqlite
  dsn: %s
log:
  level: error
universe:
%s`, u.api.URL, u.feed.URL, dbPath, universe.String())

	configPath = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath, dbPath
}

func cli(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func openStore(t *testing.T, path string) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), store.Config{Driver: store.DriverSQLite, DSN: path}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type resultJSON struct {
	DataKind       string   `json:"dataKind" yaml:"dataKind"`
	Total          int      `json:"total" yaml:"total"`
	Success        int      `json:"success" yaml:"success"`
	Failed         int      `json:"failed" yaml:"failed"`
	Skipped        int      `json:"skipped" yaml:"skipped"`
	RecordsCreated int      `json:"recordsCreated" yaml:"recordsCreated"`
	Errors         []string `json:"errors" yaml:"errors"`
}

func TestIntegration_FullRun(t *testing.T) {
	u := newUpstream(t)
	configPath, dbPath := workspace(t, u, "AAPL", "MSFT", "NOPE")

	code, out, stderr := cli(t, "seed", "--config", configPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Instruments upserted: 3 (stored: 3)")
	assert.Contains(t, out, "Sectors: Energy, Technology")

	code, out, stderr = cli(t, "run", "--all", "--json", "--config", configPath)
	assert.Equal(t, exitFailures, code, "NOPE fails every financial data kind: %s", stderr)

	var results map[string]resultJSON
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 4)

	for _, kind := range []string{"ohlcv", "fundamentals", "estimates"} {
		r := results[kind]
		assert.Equal(t, kind, r.DataKind)
		assert.Equal(t, 3, r.Total, kind)
		assert.Equal(t, 2, r.Success, kind)
		assert.Equal(t, 1, r.Failed, kind)
		require.Len(t, r.Errors, 1, kind)
		assert.True(t, strings.HasPrefix(r.Errors[0], "NOPE: "), r.Errors[0])
	}
	assert.Equal(t, 4, results["ohlcv"].RecordsCreated)
	assert.Equal(t, 3, results["news"].Success)
	assert.Equal(t, 6, results["news"].RecordsCreated)

	db := openStore(t, dbPath)
	bars := store.NewBarStore(db)
	n, err := bars.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	aapl, err := bars.ListByInstrument(context.Background(), models.InstrumentID("AAPL"))
	require.NoError(t, err)
	require.Len(t, aapl, 2)
	assert.Equal(t, "185.92", aapl[1].Close.String())

	articles, err := store.NewNewsStore(db).ListBySymbol(context.Background(), "msft")
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "Markets rally", articles[0].Title)
}

func TestIntegration_SelectiveRunIsIdempotent(t *testing.T) {
	u := newUpstream(t)
	configPath, dbPath := workspace(t, u, "AAPL", "MSFT", "NOPE")

	code, _, stderr := cli(t, "seed", "--config", configPath)
	require.Equal(t, exitOK, code, stderr)

	for i := 0; i < 2; i++ {
		code, out, stderr := cli(t, "run", "--ohlcv", "--symbols", "aapl,msft,ZZZZ", "--output", "yaml", "--config", configPath)
		require.Equal(t, exitOK, code, stderr)

		var results map[string]resultJSON
		require.NoError(t, yaml.Unmarshal([]byte(out), &results), out)
		require.Len(t, results, 1)
		assert.Equal(t, 2, results["ohlcv"].Success)
	}

	n, err := store.NewBarStore(openStore(t, dbPath)).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n, "replayed bars update in place")
	assert.Zero(t, u.feeds.Load(), "news was not selected")
}

func TestIntegration_DryRun(t *testing.T) {
	u := newUpstream(t)
	symbols := make([]string, 10)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("SYM%d", i)
	}
	configPath, dbPath := workspace(t, u, symbols...)

	code, _, stderr := cli(t, "seed", "--config", configPath)
	require.Equal(t, exitOK, code, stderr)

	code, out, stderr := cli(t, "run", "--ohlcv", "--news", "--dry-run", "--json", "--config", configPath)
	require.Equal(t, exitOK, code, stderr)

	var plan struct {
		DryRun          bool     `json:"dryRun"`
		InstrumentCount int      `json:"instrumentCount"`
		Instruments     []string `json:"instruments"`
		Kinds           []struct {
			Kind       string `json:"kind"`
			Parameters string `json:"parameters"`
		} `json:"kinds"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan), out)
	assert.True(t, plan.DryRun)
	assert.Equal(t, 10, plan.InstrumentCount)
	assert.Len(t, plan.Instruments, 10)
	require.Len(t, plan.Kinds, 2)
	assert.Equal(t, "ohlcv", plan.Kinds[0].Kind)
	assert.Equal(t, "lookback=5d", plan.Kinds[0].Parameters)
	assert.Equal(t, "news", plan.Kinds[1].Kind)

	assert.Zero(t, u.requests(), "a dry run issues no requests")
	n, err := store.NewBarStore(openStore(t, dbPath)).Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a dry run writes nothing")
}

func TestIntegration_DryRunBeforeSeed(t *testing.T) {
	u := newUpstream(t)
	configPath, _ := workspace(t, u, "AAPL")

	code, _, stderr := cli(t, "run", "--all", "--dry-run", "--config", configPath)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "database not seeded")
	assert.Zero(t, u.requests())
}

func TestIntegration_DryRunText(t *testing.T) {
	u := newUpstream(t)
	symbols := make([]string, 25)
	for i := range symbols {
		symbols[i] = fmt.Sprintf("S%02d", i)
	}
	configPath, _ := workspace(t, u, symbols...)

	code, _, stderr := cli(t, "seed", "--config", configPath)
	require.Equal(t, exitOK, code, stderr)

	code, out, stderr := cli(t, "run", "--all", "--dry-run", "--sector", "Technology", "--limit", "21", "--config", configPath)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Dry run: 13 instruments")
	assert.Contains(t, out, "S00")
	assert.Contains(t, out, "fundamentals (period=quarterly)")
	assert.NotContains(t, out, "... and")
	assert.Zero(t, u.requests())
}

func TestIntegration_UsageErrors(t *testing.T) {
	u := newUpstream(t)
	configPath, _ := workspace(t, u, "AAPL")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no kind", []string{"run"}, "no data kinds selected"},
		{"bad output", []string{"run", "--all", "--output", "xml"}, "unknown output format"},
		{"bad period", []string{"run", "--fundamentals", "--period", "weekly"}, "--period must be quarterly or annual"},
		{"bad flag", []string{"run", "--bogus"}, "unknown flag"},
		{"symbols and sector", []string{"run", "--all", "--symbols", "AAPL", "--sector", "Energy"}, "cannot be combined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := cli(t, append(tt.args, "--config", configPath)...)
			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
	assert.Zero(t, u.requests())
}

func TestIntegration_MissingDataSource(t *testing.T) {
	u := newUpstream(t)
	configPath, _ := workspace(t, u, "AAPL")

	// without seed the data sources are unknown
	code, _, stderr := cli(t, "run", "--ohlcv", "--config", configPath)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, `data source "financialdatasets" not found`)
	assert.Zero(t, u.requests())
}

func TestVersion(t *testing.T) {
	code, stdout, _ := cli(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "marketrefresh dev\n", stdout)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"failures", &exitError{code: exitFailures}, exitFailures},
		{"usage", usageError("bad"), exitUsage},
		{"canceled", context.Canceled, exitInterrupted},
		{"other", fmt.Errorf("boom"), exitFailures},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
