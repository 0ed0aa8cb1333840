/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package memstore

import (
	"context"
	"time"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// writeTx stages mutations in an overlay until Commit. The transaction holds
// the store's write slot for its whole lifetime, so unique checks made against
// committed state plus the overlay cannot be invalidated by another writer.
type writeTx struct {
	store *Store

	// pending maps entity -> id -> staged row; a nil row marks a delete.
	pending map[string]map[string]storage.Row
	// staged maps entity+signature -> key string -> id for rows written in
	// this transaction.
	staged map[string]map[string]string

	deadline time.Time
	done     bool
}

func stagedKey(entity, sig string) string {
	return entity + "\x00" + sig
}

func (tx *writeTx) check(ctx context.Context) error {
	if tx.done {
		return qerrors.NewConcurrencyError("storage", "use of finished transaction")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !tx.deadline.IsZero() && time.Now().After(tx.deadline) {
		return qerrors.NewConcurrencyError("storage", "transaction timeout")
	}
	return nil
}

// effectiveRow resolves a row id through the overlay: staged value if present,
// committed value otherwise. The boolean reports whether the row exists at
// all in the transaction's view.
func (tx *writeTx) effectiveRow(t *table, id string) (storage.Row, bool) {
	if ents, ok := tx.pending[t.def.Name]; ok {
		if row, ok := ents[id]; ok {
			return row, row != nil
		}
	}
	row, ok := t.rows[id]
	return row, ok
}

// lookupUnique resolves a unique key through the overlay. Committed index
// entries are revalidated against the overlay because a staged update or
// delete can make them stale.
func (tx *writeTx) lookupUnique(t *table, fields []string, ks string) (string, bool) {
	sig := indexSignature(fields)
	if idx, ok := tx.staged[stagedKey(t.def.Name, sig)]; ok {
		if id, ok := idx[ks]; ok {
			return id, true
		}
	}
	if id, ok := t.uniques[sig][ks]; ok {
		row, exists := tx.effectiveRow(t, id)
		if !exists {
			return "", false
		}
		current, valid := rowKeyString(row, fields)
		if valid && current == ks {
			return id, true
		}
		return "", false
	}
	return "", false
}

func rowKeyString(row storage.Row, fields []string) (string, bool) {
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = row[f]
	}
	return storage.KeyString(values)
}

// restage drops every staged index entry owned by id and, when row is not a
// delete, re-adds the entries for its current values.
func (tx *writeTx) restage(t *table, id string, row storage.Row) {
	for _, idx := range t.def.UniqueIndexes() {
		sig := stagedKey(t.def.Name, indexSignature(idx))
		stagedIdx := tx.staged[sig]
		if stagedIdx == nil {
			stagedIdx = make(map[string]string)
			tx.staged[sig] = stagedIdx
		}
		for ks, owner := range stagedIdx {
			if owner == id {
				delete(stagedIdx, ks)
			}
		}
		if row != nil {
			if ks, ok := rowKeyString(row, idx); ok {
				stagedIdx[ks] = id
			}
		}
	}
}

// checkUniques verifies no unique constraint of the entity is violated by
// writing row under id. The failing constraint's fields are reported.
func (tx *writeTx) checkUniques(t *table, id string, row storage.Row) error {
	for _, idx := range t.def.UniqueIndexes() {
		ks, ok := rowKeyString(row, idx)
		if !ok {
			continue
		}
		if owner, found := tx.lookupUnique(t, idx, ks); found && owner != id {
			return qerrors.NewConstraintViolationError(t.def.Name, idx...)
		}
	}
	return nil
}

func (tx *writeTx) setPending(entity, id string, row storage.Row) {
	ents, ok := tx.pending[entity]
	if !ok {
		ents = make(map[string]storage.Row)
		tx.pending[entity] = ents
	}
	ents[id] = row
}

func (tx *writeTx) Insert(ctx context.Context, entity string, row storage.Row) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	t, err := tx.store.table(entity)
	if err != nil {
		return err
	}
	id, _ := row[schema.PrimaryKey].(string)
	if id == "" {
		return qerrors.NewValidationError(entity+".id", "missing primary key")
	}
	if _, exists := tx.effectiveRow(t, id); exists {
		return qerrors.NewConstraintViolationError(entity, schema.PrimaryKey)
	}
	if err := tx.checkUniques(t, id, row); err != nil {
		return err
	}
	tx.setPending(entity, id, row.Clone())
	tx.restage(t, id, row)
	return nil
}

func (tx *writeTx) Update(ctx context.Context, entity string, id string, row storage.Row) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	t, err := tx.store.table(entity)
	if err != nil {
		return err
	}
	if _, exists := tx.effectiveRow(t, id); !exists {
		return qerrors.NewNotFoundError(entity, id)
	}
	if err := tx.checkUniques(t, id, row); err != nil {
		return err
	}
	tx.setPending(entity, id, row.Clone())
	tx.restage(t, id, row)
	return nil
}

func (tx *writeTx) Delete(ctx context.Context, entity string, id string) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	t, err := tx.store.table(entity)
	if err != nil {
		return err
	}
	if _, exists := tx.effectiveRow(t, id); !exists {
		return qerrors.NewNotFoundError(entity, id)
	}
	tx.setPending(entity, id, nil)
	tx.restage(t, id, nil)
	return nil
}

func (tx *writeTx) Get(ctx context.Context, entity string, key storage.UniqueKey) (storage.Row, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	t, err := tx.store.table(entity)
	if err != nil {
		return nil, err
	}
	if _, ok := t.uniques[indexSignature(key.Fields)]; !ok {
		return nil, qerrors.NewValidationError(entity, "no unique constraint on ("+indexSignature(key.Fields)+")")
	}
	ks, ok := storage.KeyString(key.Values)
	if !ok {
		return nil, nil
	}
	id, found := tx.lookupUnique(t, key.Fields, ks)
	if !found {
		return nil, nil
	}
	row, _ := tx.effectiveRow(t, id)
	return row.Clone(), nil
}

func (tx *writeTx) Scan(ctx context.Context, entity string, order []storage.Order) (storage.Iterator, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	t, err := tx.store.table(entity)
	if err != nil {
		return nil, err
	}
	rows := make([]storage.Row, 0, len(t.rows))
	pendingRows := tx.pending[entity]
	for id, row := range t.rows {
		if _, overridden := pendingRows[id]; overridden {
			continue
		}
		rows = append(rows, row)
	}
	for _, row := range pendingRows {
		if row != nil {
			rows = append(rows, row)
		}
	}
	if err := storage.SortRows(t.def, rows, order); err != nil {
		return nil, err
	}
	return &sliceIterator{ctx: ctx, rows: rows}, nil
}

// Commit applies the overlay to committed state under the table lock and
// releases the write slot.
func (tx *writeTx) Commit(ctx context.Context) error {
	if err := tx.check(ctx); err != nil {
		tx.release()
		return err
	}
	tx.store.mu.Lock()
	for entity, rows := range tx.pending {
		t := tx.store.tables[entity]
		for id, row := range rows {
			if old, ok := t.rows[id]; ok {
				for _, idx := range t.def.UniqueIndexes() {
					if ks, valid := rowKeyString(old, idx); valid {
						delete(t.uniques[indexSignature(idx)], ks)
					}
				}
			}
			if row == nil {
				delete(t.rows, id)
				continue
			}
			t.rows[id] = row
			for _, idx := range t.def.UniqueIndexes() {
				if ks, valid := rowKeyString(row, idx); valid {
					t.uniques[indexSignature(idx)][ks] = id
				}
			}
		}
	}
	tx.store.mu.Unlock()
	tx.release()
	return nil
}

// Rollback discards the overlay. Calling it after Commit is a no-op, which
// keeps `defer tx.Rollback()` safe.
func (tx *writeTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

func (tx *writeTx) release() {
	if tx.done {
		return
	}
	tx.done = true
	<-tx.store.writeSlot
}
