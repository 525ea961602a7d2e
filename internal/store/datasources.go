package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"marketrefresh/internal/models"
)

// DataSourceStore persists upstream data providers
type DataSourceStore struct {
	*table[models.DataSource]
}

// NewDataSourceStore creates a data source store on db
func NewDataSourceStore(db *DB) *DataSourceStore {
	return &DataSourceStore{newTable(db, "data_sources",
		[]string{"id", "name", "type", "base_url", "status", "payload_hash", "created_at", "updated_at"},
		[]string{"name"},
		func(d models.DataSource, now int64) []any {
			hash := models.PayloadHash([]any{d.Type, d.BaseURL, d.Status})
			return []any{d.ID, d.Name, d.Type, d.BaseURL, d.Status, hash, now, now}
		},
		func(row scanner) (models.DataSource, error) {
			var (
				d                models.DataSource
				hash             string
				created, updated int64
			)
			err := row.Scan(&d.ID, &d.Name, &d.Type, &d.BaseURL, &d.Status, &hash, &created, &updated)
			if err != nil {
				return d, err
			}
			d.CreatedAt = fromMillis(created)
			return d, nil
		},
	)}
}

// Ensure creates or updates a data source keyed by name
func (s *DataSourceStore) Ensure(ctx context.Context, d models.DataSource) (models.DataSource, error) {
	if d.ID == uuid.Nil {
		d.ID = models.DataSourceID(d.Name)
	}
	if d.Status == "" {
		d.Status = "active"
	}
	return s.Upsert(ctx, d)
}

// LookupID returns the ID of the named data source, or ErrNotFound
func (s *DataSourceStore) LookupID(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.conn.QueryRowContext(ctx, s.db.rebind("SELECT id FROM data_sources WHERE name = ?"), name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, classify("lookup data source", err)
	}
	return id, nil
}
