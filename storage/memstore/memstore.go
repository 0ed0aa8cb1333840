/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package memstore implements the storage engine boundary entirely in memory.
// It is the reference implementation of the transactional contract: atomic
// multi-row commits, first-committer-wins unique constraints, and key-ordered
// scans with a primary-key tiebreaker.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Store is an in-memory storage.Engine. Readers run concurrently under a
// shared lock; write transactions serialize on an internal slot so staged
// state never interleaves.
type Store struct {
	registry *schema.Registry

	mu     sync.RWMutex
	tables map[string]*table

	// writeSlot is a one-slot semaphore serializing write transactions.
	writeSlot chan struct{}
}

type table struct {
	def  *schema.EntityDef
	rows map[string]storage.Row
	// uniques maps index signature -> key string -> row id.
	uniques map[string]map[string]string
}

// New creates a Store with one table per registered entity.
func New(registry *schema.Registry) *Store {
	s := &Store{
		registry:  registry,
		tables:    make(map[string]*table),
		writeSlot: make(chan struct{}, 1),
	}
	for _, def := range registry.Entities() {
		t := &table{
			def:     def,
			rows:    make(map[string]storage.Row),
			uniques: make(map[string]map[string]string),
		}
		for _, idx := range def.UniqueIndexes() {
			t.uniques[indexSignature(idx)] = make(map[string]string)
		}
		s.tables[def.Name] = t
	}
	return s
}

func indexSignature(fields []string) string {
	return strings.Join(fields, ",")
}

func (s *Store) table(entity string) (*table, error) {
	t, ok := s.tables[entity]
	if !ok {
		return nil, qerrors.NewValidationError(entity, "entity is not registered")
	}
	return t, nil
}

// View runs fn under a shared read lock. Cancelling ctx makes in-flight scans
// stop at the next row, which returns control to fn and releases the lock.
func (s *Store) View(ctx context.Context, fn func(storage.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&readTx{store: s})
}

// Begin acquires the write slot, waiting at most opts.MaxWait (and never past
// ctx). A wait that times out surfaces as a ConcurrencyError, which callers
// may retry.
func (s *Store) Begin(ctx context.Context, opts storage.TxOptions) (storage.Tx, error) {
	waitCtx := ctx
	if opts.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.MaxWait)
		defer cancel()
	}
	select {
	case s.writeSlot <- struct{}{}:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, qerrors.NewConcurrencyError("storage", "begin")
	}

	tx := &writeTx{
		store:   s,
		pending: make(map[string]map[string]storage.Row),
		staged:  make(map[string]map[string]string),
	}
	if opts.Timeout > 0 {
		tx.deadline = time.Now().Add(opts.Timeout)
	}
	return tx, nil
}

// readTx reads committed state only.
type readTx struct {
	store *Store
}

func (r *readTx) Get(ctx context.Context, entity string, key storage.UniqueKey) (storage.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := r.store.table(entity)
	if err != nil {
		return nil, err
	}
	return t.get(key)
}

func (r *readTx) Scan(ctx context.Context, entity string, order []storage.Order) (storage.Iterator, error) {
	t, err := r.store.table(entity)
	if err != nil {
		return nil, err
	}
	rows := make([]storage.Row, 0, len(t.rows))
	for _, row := range t.rows {
		rows = append(rows, row)
	}
	if err := storage.SortRows(t.def, rows, order); err != nil {
		return nil, err
	}
	return &sliceIterator{ctx: ctx, rows: rows}, nil
}

func (t *table) get(key storage.UniqueKey) (storage.Row, error) {
	sig := indexSignature(key.Fields)
	idx, ok := t.uniques[sig]
	if !ok {
		return nil, qerrors.NewValidationError(t.def.Name, "no unique constraint on ("+sig+")")
	}
	ks, ok := storage.KeyString(key.Values)
	if !ok {
		return nil, nil
	}
	id, ok := idx[ks]
	if !ok {
		return nil, nil
	}
	return t.rows[id].Clone(), nil
}

type sliceIterator struct {
	ctx  context.Context
	rows []storage.Row
	pos  int
	cur  storage.Row
	err  error
}

func (it *sliceIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if it.pos >= len(it.rows) {
		return false
	}
	it.cur = it.rows[it.pos].Clone()
	it.pos++
	return true
}

func (it *sliceIterator) Row() storage.Row { return it.cur }
func (it *sliceIterator) Err() error       { return it.err }
func (it *sliceIterator) Close() error     { return nil }
