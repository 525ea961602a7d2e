// Package store persists refreshed records with create-or-replace semantics
// keyed by each record's natural key.
package store

import "context"

// Upserter writes records keyed by their natural key.
//
// Upsert creates the record or replaces its mutable fields and returns the
// stored row. Writing an identical record again leaves the row untouched.
// BulkUpsert is equivalent to one Upsert per record, inside one transaction.
type Upserter[T any] interface {
	Upsert(ctx context.Context, rec T) (T, error)
	BulkUpsert(ctx context.Context, recs []T) (int, error)
}
