// Package clickhouse stores OHLCV bars in a ClickHouse ReplacingMergeTree
// table. Rows carry a version so the latest write for a natural key wins
// once parts merge; reads use FINAL to see that state immediately.
package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2" // registers the "clickhouse" driver
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/models"
	"marketrefresh/internal/store"
)

// Config locates the ClickHouse server
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Table    string `mapstructure:"table"`
}

const (
	defaultPort  = 9000
	defaultTable = "ohlcv_bars"
)

// DSN builds the driver connection string
func (c Config) DSN() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	db := c.Database
	if db == "" {
		db = "default"
	}
	u := url.URL{
		Scheme: "clickhouse",
		Host:   c.Host + ":" + strconv.Itoa(port),
		Path:   "/" + db,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	q := url.Values{}
	q.Set("dial_timeout", "5s")
	q.Set("read_timeout", "30s")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c Config) table() string {
	if c.Table == "" {
		return defaultTable
	}
	return c.Table
}

// Schema returns the DDL for the bars table
func Schema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID,
	instrument_id UUID,
	data_source_id UUID,
	date Date,
	open Decimal(38, 10),
	high Decimal(38, 10),
	low Decimal(38, 10),
	close Decimal(38, 10),
	volume Int64,
	adj_close Nullable(Decimal(38, 10)),
	payload_hash String,
	created_at DateTime64(3, 'UTC'),
	updated_at DateTime64(3, 'UTC'),
	version UInt64
) ENGINE = ReplacingMergeTree(version)
ORDER BY (instrument_id, date, data_source_id)`, table)
}

const columns = "id, instrument_id, data_source_id, date, open, high, low, close, volume, adj_close, payload_hash, created_at, updated_at, version"

// BarStore implements store.Upserter for OHLCV bars
type BarStore struct {
	db    *sql.DB
	table string
	clock clock.Clock
	log   zerolog.Logger
}

var _ store.Upserter[models.OHLCVBar] = (*BarStore)(nil)

// Option customizes a BarStore
type Option func(*BarStore)

// WithClock sets the time source for timestamps and versions
func WithClock(c clock.Clock) Option {
	return func(s *BarStore) { s.clock = c }
}

// Open connects to ClickHouse and ensures the bars table exists
func Open(ctx context.Context, cfg Config, log zerolog.Logger, opts ...Option) (*BarStore, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("clickhouse host is required")
	}
	db, err := sql.Open("clickhouse", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	s := &BarStore{
		db:    db,
		table: cfg.table(),
		clock: clock.System{},
		log:   log.With().Str("component", "store").Str("driver", "clickhouse").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := db.ExecContext(ctx, Schema(s.table)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return s, nil
}

// Close closes the connection pool
func (s *BarStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *BarStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Upsert stores one bar
func (s *BarStore) Upsert(ctx context.Context, bar models.OHLCVBar) (models.OHLCVBar, error) {
	out, err := s.write(ctx, []models.OHLCVBar{bar})
	if err != nil {
		return models.OHLCVBar{}, err
	}
	return out[0], nil
}

// BulkUpsert stores bars in one insert batch
func (s *BarStore) BulkUpsert(ctx context.Context, bars []models.OHLCVBar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	if _, err := s.write(ctx, bars); err != nil {
		return 0, err
	}
	return len(bars), nil
}

// write inserts the bars whose payload differs from the stored version and
// returns every bar as stored
func (s *BarStore) write(ctx context.Context, bars []models.OHLCVBar) ([]models.OHLCVBar, error) {
	for _, b := range bars {
		if b.ID == uuid.Nil {
			return nil, &store.PersistenceError{Op: "upsert " + s.table, Err: fmt.Errorf("record has no id")}
		}
	}

	existing, err := s.lookup(ctx, bars)
	if err != nil {
		return nil, &store.PersistenceError{Op: "lookup " + s.table, Err: err}
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	out, pending := plan(bars, existing, now)
	if len(pending) == 0 {
		return out, nil
	}

	version := uint64(now.UnixNano())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &store.PersistenceError{Op: "begin " + s.table, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s)", s.table, columns))
	if err != nil {
		return nil, &store.PersistenceError{Op: "prepare " + s.table, Err: err}
	}
	defer stmt.Close()

	for _, i := range pending {
		b := out[i]
		var adj *decimal.Decimal
		if b.AdjClose.Valid {
			adj = &b.AdjClose.Decimal
		}
		if _, err := stmt.ExecContext(ctx, b.ID, b.InstrumentID, b.DataSourceID, b.Date,
			b.Open, b.High, b.Low, b.Close, b.Volume, adj, b.PayloadHash,
			b.CreatedAt, b.UpdatedAt, version); err != nil {
			return nil, &store.PersistenceError{Op: "insert " + s.table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, &store.PersistenceError{Op: "commit " + s.table, Err: err}
	}

	s.log.Debug().Int("bars", len(bars)).Int("written", len(pending)).Msg("bars upserted")
	return out, nil
}

// plan decides which bars need writing. Unchanged bars are returned as
// stored; changed ones keep their original created_at.
func plan(bars []models.OHLCVBar, existing map[uuid.UUID]models.OHLCVBar, now time.Time) ([]models.OHLCVBar, []int) {
	out := make([]models.OHLCVBar, len(bars))
	var pending []int
	for i, b := range bars {
		prev, ok := existing[b.ID]
		switch {
		case ok && prev.PayloadHash == b.PayloadHash:
			out[i] = prev
		case ok:
			b.CreatedAt, b.UpdatedAt = prev.CreatedAt, now
			out[i] = b
			pending = append(pending, i)
		default:
			b.CreatedAt, b.UpdatedAt = now, now
			out[i] = b
			pending = append(pending, i)
		}
	}
	return out, pending
}

// lookup returns the stored version of each bar, keyed by ID
func (s *BarStore) lookup(ctx context.Context, bars []models.OHLCVBar) (map[uuid.UUID]models.OHLCVBar, error) {
	ids := make([]string, 0, len(bars))
	args := make([]any, 0, len(bars))
	for _, b := range bars {
		ids = append(ids, "?")
		args = append(args, b.ID)
	}
	query := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE id IN (%s)", columns, s.table, strings.Join(ids, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[uuid.UUID]models.OHLCVBar, len(bars))
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		found[b.ID] = b
	}
	return found, rows.Err()
}

// ListByInstrument returns an instrument's bars in [from, to], oldest first
func (s *BarStore) ListByInstrument(ctx context.Context, instrumentID uuid.UUID, from, to time.Time) ([]models.OHLCVBar, error) {
	query := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE instrument_id = ? AND date BETWEEN ? AND ? ORDER BY date",
		columns, s.table)
	rows, err := s.db.QueryContext(ctx, query, instrumentID, from, to)
	if err != nil {
		return nil, &store.PersistenceError{Op: "list " + s.table, Err: err}
	}
	defer rows.Close()

	var out []models.OHLCVBar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, &store.PersistenceError{Op: "list " + s.table, Err: err}
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBar(rows *sql.Rows) (models.OHLCVBar, error) {
	var (
		b       models.OHLCVBar
		adj     *decimal.Decimal
		version uint64
	)
	err := rows.Scan(&b.ID, &b.InstrumentID, &b.DataSourceID, &b.Date, &b.Open, &b.High, &b.Low,
		&b.Close, &b.Volume, &adj, &b.PayloadHash, &b.CreatedAt, &b.UpdatedAt, &version)
	if err != nil {
		return b, err
	}
	if adj != nil {
		b.AdjClose = decimal.NewNullDecimal(*adj)
	}
	b.Date = b.Date.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return b, nil
}
