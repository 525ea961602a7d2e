package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// table implements keyed upserts for one record type.
// columns[0] must be id and the last two columns created_at, updated_at.
type table[T any] struct {
	db       *DB
	name     string
	columns  []string
	conflict []string
	// values returns one argument per column; now fills the timestamps.
	values func(rec T, now int64) []any
	// scan must return row.Scan's error unwrapped.
	scan func(row scanner) (T, error)

	upsertQuery string
	selectQuery string
	keyIndexes  []int
}

func newTable[T any](db *DB, name string, columns, conflict []string,
	values func(T, int64) []any, scan func(scanner) (T, error)) *table[T] {
	t := &table[T]{
		db:       db,
		name:     name,
		columns:  columns,
		conflict: conflict,
		values:   values,
		scan:     scan,
	}

	immutable := map[string]bool{"id": true, "created_at": true}
	for _, c := range conflict {
		immutable[c] = true
		for i, col := range columns {
			if col == c {
				t.keyIndexes = append(t.keyIndexes, i)
			}
		}
	}

	var set []string
	for _, col := range columns {
		if !immutable[col] {
			set = append(set, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}

	cols := strings.Join(columns, ", ")
	t.upsertQuery = db.rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (%s) DO UPDATE SET %s
		WHERE %s.payload_hash <> excluded.payload_hash
		RETURNING %s`,
		name, cols, placeholders(len(columns)),
		strings.Join(conflict, ", "), strings.Join(set, ", "),
		name, cols))

	var where []string
	for _, c := range conflict {
		where = append(where, c+" = ?")
	}
	t.selectQuery = db.rebind(fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		cols, name, strings.Join(where, " AND ")))

	return t
}

// upsert writes rec through q and returns the stored row.
// An unchanged payload updates nothing, so the existing row is read back.
func (t *table[T]) upsert(ctx context.Context, q querier, rec T, now int64) (T, error) {
	var zero T
	op := "upsert " + t.name

	args := t.values(rec, now)
	if id, ok := args[0].(uuid.UUID); ok && id == uuid.Nil {
		return zero, &PersistenceError{Op: op, Err: errors.New("record has no id")}
	}

	out, err := t.scan(q.QueryRowContext(ctx, t.upsertQuery, args...))
	if errors.Is(err, sql.ErrNoRows) {
		keyArgs := make([]any, len(t.keyIndexes))
		for i, idx := range t.keyIndexes {
			keyArgs[i] = args[idx]
		}
		out, err = t.scan(q.QueryRowContext(ctx, t.selectQuery, keyArgs...))
	}
	if err != nil {
		return zero, classify(op, err)
	}
	return out, nil
}

// Upsert writes one record in its own transaction
func (t *table[T]) Upsert(ctx context.Context, rec T) (T, error) {
	var out T
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = t.upsert(ctx, tx, rec, t.db.nowMillis())
		return err
	})
	return out, err
}

// BulkUpsert writes every record in one transaction and returns how many were written
func (t *table[T]) BulkUpsert(ctx context.Context, recs []T) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	now := t.db.nowMillis()
	n := 0
	err := t.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, rec := range recs {
			if _, err := t.upsert(ctx, tx, rec, now); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	t.db.log.Debug().Str("table", t.name).Int("records", n).Msg("bulk upsert")
	return n, nil
}

// list returns rows matching an optional where clause
func (t *table[T]) list(ctx context.Context, where string, args ...any) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)
	if where != "" {
		query += " WHERE " + where
	}

	rows, err := t.db.conn.QueryContext(ctx, t.db.rebind(query), args...)
	if err != nil {
		return nil, classify("query "+t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		rec, err := t.scan(rows)
		if err != nil {
			return nil, classify("scan "+t.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+t.name, err)
	}
	return out, nil
}

// count returns the number of rows in the table
func (t *table[T]) count(ctx context.Context) (int, error) {
	var n int
	err := t.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n)
	if err != nil {
		return 0, classify("count "+t.name, err)
	}
	return n, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored date %q: %w", s, err)
	}
	return t, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
