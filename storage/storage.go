/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storage

import (
	"context"
	"time"
)

// Row is one stored record. Values are the canonical Go forms per field kind:
// string, int64, bool, decimal.Decimal, time.Time, document.Value, []string,
// or nil for a null.
type Row map[string]any

// Clone returns a shallow copy with its own string-list slices, deep enough
// that callers mutating a fetched row never alias committed state.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		if list, ok := v.([]string); ok {
			cp := make([]string, len(list))
			copy(cp, list)
			out[k] = cp
			continue
		}
		out[k] = v
	}
	return out
}

// UniqueKey addresses a row through one of its entity's unique constraints.
// Fields and Values are parallel; a single-field key has length one.
type UniqueKey struct {
	Fields []string
	Values []any
}

// PrimaryKey builds the unique key for the "id" constraint.
func PrimaryKey(id string) UniqueKey {
	return UniqueKey{Fields: []string{"id"}, Values: []any{id}}
}

// Order is one ordering term of a scan.
type Order struct {
	Field string
	Desc  bool
}

// Iterator walks rows in scan order. The usual loop is:
//
//	for it.Next() {
//	    row := it.Row()
//	    ...
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// TxOptions bounds how long a transaction may wait to start and how long it
// may run before the engine rolls it back.
type TxOptions struct {
	// MaxWait bounds lock acquisition; zero means wait only for ctx.
	MaxWait time.Duration
	// Timeout bounds the transaction lifetime after acquisition; zero means
	// bounded only by ctx.
	Timeout time.Duration
}

// ReadTx exposes the two read primitives the query layer is built on: point
// lookup by unique key and key-ordered range scan.
type ReadTx interface {
	// Get returns the row addressed by key, or nil when no row matches.
	Get(ctx context.Context, entity string, key UniqueKey) (Row, error)

	// Scan iterates every row of the entity in the given order. The order is
	// monotonic per the engine's declared key ordering; ties are broken by
	// primary key ascending.
	Scan(ctx context.Context, entity string, order []Order) (Iterator, error)
}

// Tx is an atomic multi-row write transaction. Mutations stage until Commit;
// unique constraints resolve first-committer-wins, with the loser receiving a
// ConstraintViolationError.
type Tx interface {
	ReadTx

	Insert(ctx context.Context, entity string, row Row) error
	Update(ctx context.Context, entity string, id string, row Row) error
	Delete(ctx context.Context, entity string, id string) error

	Commit(ctx context.Context) error
	Rollback() error
}

// Engine is the storage boundary the query core runs over. Implementations
// must support concurrent readers; writers may serialize internally as long
// as Begin honors TxOptions.MaxWait.
type Engine interface {
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(ReadTx) error) error

	// Begin opens a write transaction.
	Begin(ctx context.Context, opts TxOptions) (Tx, error)
}
