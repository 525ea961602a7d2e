package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"marketrefresh/internal/models"
)

// InstrumentStore persists the instrument universe
type InstrumentStore struct {
	*table[models.Instrument]
}

// NewInstrumentStore creates an instrument store on db
func NewInstrumentStore(db *DB) *InstrumentStore {
	return &InstrumentStore{newTable(db, "instruments",
		[]string{"id", "symbol", "name", "asset_class", "exchange", "currency", "sector", "industry",
			"active", "payload_hash", "created_at", "updated_at"},
		[]string{"symbol"},
		func(i models.Instrument, now int64) []any {
			hash := models.PayloadHash([]any{i.Name, i.AssetClass, i.Exchange, i.Currency, i.Sector, i.Industry, i.Active})
			return []any{i.ID, i.Symbol, i.Name, i.AssetClass, i.Exchange, i.Currency, i.Sector, i.Industry,
				i.Active, hash, now, now}
		},
		func(row scanner) (models.Instrument, error) {
			var (
				i                models.Instrument
				hash             string
				created, updated int64
			)
			err := row.Scan(&i.ID, &i.Symbol, &i.Name, &i.AssetClass, &i.Exchange, &i.Currency, &i.Sector,
				&i.Industry, &i.Active, &hash, &created, &updated)
			if err != nil {
				return i, err
			}
			i.CreatedAt, i.UpdatedAt = fromMillis(created), fromMillis(updated)
			return i, nil
		},
	)}
}

func normalizeInstrument(i models.Instrument) models.Instrument {
	i.Symbol = models.NormalizeSymbol(i.Symbol)
	if i.ID == uuid.Nil {
		i.ID = models.InstrumentID(i.Symbol)
	}
	if i.AssetClass == "" {
		i.AssetClass = "equity"
	}
	if i.Currency == "" {
		i.Currency = "USD"
	}
	return i
}

// Upsert creates or updates an instrument keyed by symbol
func (s *InstrumentStore) Upsert(ctx context.Context, i models.Instrument) (models.Instrument, error) {
	return s.table.Upsert(ctx, normalizeInstrument(i))
}

// BulkUpsert creates or updates instruments keyed by symbol
func (s *InstrumentStore) BulkUpsert(ctx context.Context, recs []models.Instrument) (int, error) {
	normalized := make([]models.Instrument, len(recs))
	for i, r := range recs {
		normalized[i] = normalizeInstrument(r)
	}
	return s.table.BulkUpsert(ctx, normalized)
}

// ListActive returns every active instrument ordered by symbol
func (s *InstrumentStore) ListActive(ctx context.Context) ([]models.Instrument, error) {
	return s.list(ctx, "active = ? ORDER BY symbol", true)
}

// ListBySymbols returns the active instruments among symbols, ordered by symbol.
// Unknown symbols are silently absent from the result.
func (s *InstrumentStore) ListBySymbols(ctx context.Context, symbols []string) ([]models.Instrument, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(symbols)+1)
	args = append(args, true)
	for _, sym := range symbols {
		args = append(args, models.NormalizeSymbol(sym))
	}
	where := fmt.Sprintf("active = ? AND symbol IN (%s) ORDER BY symbol", placeholders(len(symbols)))
	return s.list(ctx, where, args...)
}

// ListBySector returns the active instruments in a sector ordered by symbol
func (s *InstrumentStore) ListBySector(ctx context.Context, sector string) ([]models.Instrument, error) {
	return s.list(ctx, "active = ? AND sector = ? ORDER BY symbol", true, sector)
}

// Sectors returns the distinct non-empty sectors of active instruments
func (s *InstrumentStore) Sectors(ctx context.Context) ([]string, error) {
	rows, err := s.db.conn.QueryContext(ctx, s.db.rebind(
		"SELECT DISTINCT sector FROM instruments WHERE active = ? AND sector <> '' ORDER BY sector"), true)
	if err != nil {
		return nil, classify("list sectors", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sector string
		if err := rows.Scan(&sector); err != nil {
			return nil, classify("scan sector", err)
		}
		out = append(out, sector)
	}
	return out, classify("iterate sectors", rows.Err())
}

// Count returns the number of stored instruments
func (s *InstrumentStore) Count(ctx context.Context) (int, error) {
	return s.count(ctx)
}
