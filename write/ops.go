/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package write

import (
	"context"
	"errors"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Create inserts one row, with any nested child creates, in a single
// transaction and returns the stored parent row.
func (c *Coordinator) Create(ctx context.Context, entity string, in CreateInput) (storage.Row, error) {
	var out storage.Row
	err := c.run(ctx, entity, "create", func(tx storage.Tx) error {
		row, err := c.createTx(ctx, tx, entity, in, true)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMany inserts a batch in one transaction and returns how many rows were
// stored. With skipDuplicates, rows losing a unique constraint are silently
// dropped instead of failing the batch. Nested creates are not accepted here.
func (c *Coordinator) CreateMany(ctx context.Context, entity string, ins []CreateInput, skipDuplicates bool) (int64, error) {
	rows, err := c.createManyRows(ctx, entity, ins, skipDuplicates)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// CreateManyAndReturn is CreateMany returning the stored rows.
func (c *Coordinator) CreateManyAndReturn(ctx context.Context, entity string, ins []CreateInput, skipDuplicates bool) ([]storage.Row, error) {
	return c.createManyRows(ctx, entity, ins, skipDuplicates)
}

func (c *Coordinator) createManyRows(ctx context.Context, entity string, ins []CreateInput, skipDuplicates bool) ([]storage.Row, error) {
	var out []storage.Row
	err := c.run(ctx, entity, "createMany", func(tx storage.Tx) error {
		rows, err := c.createManyTx(ctx, tx, entity, ins, skipDuplicates)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update mutates the row addressed by a unique key and returns the stored
// result. Arithmetic field updates read the committed value inside the
// transaction.
func (c *Coordinator) Update(ctx context.Context, entity string, key storage.UniqueKey, upd UpdateInput) (storage.Row, error) {
	var out storage.Row
	err := c.run(ctx, entity, "update", func(tx storage.Tx) error {
		row, err := c.updateTx(ctx, tx, entity, key, upd)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateMany applies the same update to every row matching the filter and
// returns the number of rows touched.
func (c *Coordinator) UpdateMany(ctx context.Context, entity string, where *predicate.Where, upd UpdateInput) (int64, error) {
	rows, err := c.updateManyRows(ctx, entity, where, upd)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// UpdateManyAndReturn is UpdateMany returning the updated rows.
func (c *Coordinator) UpdateManyAndReturn(ctx context.Context, entity string, where *predicate.Where, upd UpdateInput) ([]storage.Row, error) {
	return c.updateManyRows(ctx, entity, where, upd)
}

func (c *Coordinator) updateManyRows(ctx context.Context, entity string, where *predicate.Where, upd UpdateInput) ([]storage.Row, error) {
	var out []storage.Row
	err := c.run(ctx, entity, "updateMany", func(tx storage.Tx) error {
		rows, err := c.updateManyTx(ctx, tx, entity, where, upd)
		if err != nil {
			return err
		}
		out = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Upsert updates the row addressed by the unique key, or creates it when
// absent. Both arms run inside the same transaction, so a concurrent creator
// cannot slip between the lookup and the write.
func (c *Coordinator) Upsert(ctx context.Context, entity string, key storage.UniqueKey, create CreateInput, upd UpdateInput) (storage.Row, error) {
	var out storage.Row
	err := c.run(ctx, entity, "upsert", func(tx storage.Tx) error {
		row, err := c.upsertTx(ctx, tx, entity, key, create, upd)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the row addressed by a unique key and returns it. Deletion is
// refused while required or restrict-marked relations still reference the row.
func (c *Coordinator) Delete(ctx context.Context, entity string, key storage.UniqueKey) (storage.Row, error) {
	var out storage.Row
	err := c.run(ctx, entity, "delete", func(tx storage.Tx) error {
		row, err := c.deleteTx(ctx, tx, entity, key)
		if err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteMany removes every row matching the filter and returns the count.
func (c *Coordinator) DeleteMany(ctx context.Context, entity string, where *predicate.Where) (int64, error) {
	var n int64
	err := c.run(ctx, entity, "deleteMany", func(tx storage.Tx) error {
		count, err := c.deleteManyTx(ctx, tx, entity, where)
		if err != nil {
			return err
		}
		n = count
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Ops is a Coordinator bound to one open transaction. Operations stage on the
// transaction and become visible together when InTx commits.
type Ops struct {
	c  *Coordinator
	tx storage.Tx
}

// InTx opens one transaction, runs fn against it, and commits when fn returns
// nil. Any error rolls the whole group back.
func (c *Coordinator) InTx(ctx context.Context, fn func(*Ops) error) error {
	return c.run(ctx, "", "transaction", func(tx storage.Tx) error {
		return fn(&Ops{c: c, tx: tx})
	})
}

// Tx exposes the underlying transaction for reads within the group.
func (o *Ops) Tx() storage.Tx { return o.tx }

func (o *Ops) Create(ctx context.Context, entity string, in CreateInput) (storage.Row, error) {
	return o.c.createTx(ctx, o.tx, entity, in, true)
}

func (o *Ops) CreateMany(ctx context.Context, entity string, ins []CreateInput, skipDuplicates bool) (int64, error) {
	rows, err := o.c.createManyTx(ctx, o.tx, entity, ins, skipDuplicates)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (o *Ops) Update(ctx context.Context, entity string, key storage.UniqueKey, upd UpdateInput) (storage.Row, error) {
	return o.c.updateTx(ctx, o.tx, entity, key, upd)
}

func (o *Ops) UpdateMany(ctx context.Context, entity string, where *predicate.Where, upd UpdateInput) (int64, error) {
	rows, err := o.c.updateManyTx(ctx, o.tx, entity, where, upd)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (o *Ops) Upsert(ctx context.Context, entity string, key storage.UniqueKey, create CreateInput, upd UpdateInput) (storage.Row, error) {
	return o.c.upsertTx(ctx, o.tx, entity, key, create, upd)
}

func (o *Ops) Delete(ctx context.Context, entity string, key storage.UniqueKey) (storage.Row, error) {
	return o.c.deleteTx(ctx, o.tx, entity, key)
}

func (o *Ops) DeleteMany(ctx context.Context, entity string, where *predicate.Where) (int64, error) {
	return o.c.deleteManyTx(ctx, o.tx, entity, where)
}

// run wraps one write call in a transaction with state logging.
func (c *Coordinator) run(ctx context.Context, entity, op string, fn func(storage.Tx) error) error {
	tx, err := c.engine.Begin(ctx, c.txOpts)
	if err != nil {
		return err
	}
	c.logger.Debug().Str("entity", entity).Str("op", op).Str("state", Applying.String()).Msg("write")
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		c.logger.Debug().Str("entity", entity).Str("op", op).Str("state", RolledBack.String()).Err(err).Msg("write")
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback()
		c.logger.Debug().Str("entity", entity).Str("op", op).Str("state", RolledBack.String()).Err(err).Msg("write")
		return err
	}
	c.logger.Debug().Str("entity", entity).Str("op", op).Str("state", Committed.String()).Msg("write")
	return nil
}

func (c *Coordinator) createTx(ctx context.Context, tx storage.Tx, entity string, in CreateInput, allowNested bool) (storage.Row, error) {
	def, err := c.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	if !allowNested && len(in.Nested) > 0 {
		return nil, qerrors.NewValidationError(entity, "nested creates are not supported in createMany")
	}
	row, err := c.composeCreate(def, in.Fields)
	if err != nil {
		return nil, err
	}
	if err := tx.Insert(ctx, entity, row); err != nil {
		return nil, err
	}
	parentID := row[schema.PrimaryKey].(string)
	for name, children := range in.Nested {
		rel, ok := def.Relation(name)
		if !ok {
			return nil, qerrors.NewValidationError(entity+"."+name, "unknown relation")
		}
		if !rel.ToMany() {
			return nil, qerrors.NewValidationError(entity+"."+name, "nested create requires a to-many relation")
		}
		for _, child := range children {
			if err := c.createChildTx(ctx, tx, rel, parentID, child); err != nil {
				return nil, err
			}
		}
	}
	return row, nil
}

// createChildTx creates one nested child. For has-many the parent's id is
// injected as the foreign key; for many-to-many the target row is created and
// joined through a fresh junction row.
func (c *Coordinator) createChildTx(ctx context.Context, tx storage.Tx, rel *schema.RelationDef, parentID string, in CreateInput) error {
	switch rel.Kind {
	case schema.HasMany:
		fields := in.Fields.Clone()
		fields[rel.ForeignKey] = parentID
		_, err := c.createTx(ctx, tx, rel.Target, CreateInput{Fields: fields, Nested: in.Nested}, true)
		return err
	case schema.ManyToMany:
		child, err := c.createTx(ctx, tx, rel.Target, in, true)
		if err != nil {
			return err
		}
		junction := CreateInput{Fields: storage.Row{
			rel.ThroughSourceKey: parentID,
			rel.ThroughTargetKey: child[schema.PrimaryKey],
		}}
		_, err = c.createTx(ctx, tx, rel.Through, junction, false)
		return err
	}
	return qerrors.NewValidationError(rel.Name, "nested create requires a to-many relation")
}

func (c *Coordinator) createManyTx(ctx context.Context, tx storage.Tx, entity string, ins []CreateInput, skipDuplicates bool) ([]storage.Row, error) {
	out := make([]storage.Row, 0, len(ins))
	for _, in := range ins {
		row, err := c.createTx(ctx, tx, entity, in, false)
		if err != nil {
			if skipDuplicates && qerrors.IsConstraintViolation(err) {
				continue
			}
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *Coordinator) updateTx(ctx context.Context, tx storage.Tx, entity string, key storage.UniqueKey, upd UpdateInput) (storage.Row, error) {
	def, err := c.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	current, err := tx.Get(ctx, entity, key)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, qerrors.NewNotFoundError(entity, keyLabel(key))
	}
	next, err := c.applyUpdates(def, current, upd)
	if err != nil {
		return nil, err
	}
	id := next[schema.PrimaryKey].(string)
	if err := tx.Update(ctx, entity, id, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (c *Coordinator) updateManyTx(ctx context.Context, tx storage.Tx, entity string, where *predicate.Where, upd UpdateInput) ([]storage.Row, error) {
	def, err := c.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	rows, err := c.matchingRows(ctx, tx, entity, where)
	if err != nil {
		return nil, err
	}
	out := make([]storage.Row, 0, len(rows))
	for _, row := range rows {
		next, err := c.applyUpdates(def, row, upd)
		if err != nil {
			return nil, err
		}
		id := next[schema.PrimaryKey].(string)
		if err := tx.Update(ctx, entity, id, next); err != nil {
			return nil, err
		}
		out = append(out, next)
	}
	return out, nil
}

func (c *Coordinator) upsertTx(ctx context.Context, tx storage.Tx, entity string, key storage.UniqueKey, create CreateInput, upd UpdateInput) (storage.Row, error) {
	current, err := tx.Get(ctx, entity, key)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return c.updateTx(ctx, tx, entity, key, upd)
	}
	row, err := c.createTx(ctx, tx, entity, create, true)
	if err != nil {
		if violatedKey(err, key) {
			// Lost the race for the upsert key to a concurrent creator.
			return nil, qerrors.NewConcurrencyError(entity, "upsert")
		}
		return nil, err
	}
	return row, nil
}

// violatedKey reports whether err is a constraint violation on exactly the
// fields of the given unique key.
func violatedKey(err error, key storage.UniqueKey) bool {
	var cv *qerrors.ConstraintViolationError
	if !errors.As(err, &cv) {
		return false
	}
	if len(cv.Fields) != len(key.Fields) {
		return false
	}
	for i, f := range cv.Fields {
		if f != key.Fields[i] {
			return false
		}
	}
	return true
}

func (c *Coordinator) deleteTx(ctx context.Context, tx storage.Tx, entity string, key storage.UniqueKey) (storage.Row, error) {
	row, err := tx.Get(ctx, entity, key)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, qerrors.NewNotFoundError(entity, keyLabel(key))
	}
	id := row[schema.PrimaryKey].(string)
	if err := c.checkDeleteRestrict(ctx, tx, entity, id); err != nil {
		return nil, err
	}
	if err := tx.Delete(ctx, entity, id); err != nil {
		return nil, err
	}
	return row, nil
}

func (c *Coordinator) deleteManyTx(ctx context.Context, tx storage.Tx, entity string, where *predicate.Where) (int64, error) {
	rows, err := c.matchingRows(ctx, tx, entity, where)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		id := row[schema.PrimaryKey].(string)
		if err := c.checkDeleteRestrict(ctx, tx, entity, id); err != nil {
			return 0, err
		}
		if err := tx.Delete(ctx, entity, id); err != nil {
			return 0, err
		}
	}
	return int64(len(rows)), nil
}

// checkDeleteRestrict refuses deletion while rows of required or
// restrict-marked relations still point at the target.
func (c *Coordinator) checkDeleteRestrict(ctx context.Context, tx storage.Tx, entity, id string) error {
	for _, ref := range c.reg.ReferencingRestrict(entity) {
		it, err := tx.Scan(ctx, ref.Entity.Name, nil)
		if err != nil {
			return err
		}
		for it.Next() {
			if fk, _ := it.Row()[ref.Relation.ForeignKey].(string); fk == id {
				_ = it.Close()
				return qerrors.NewConstraintViolationError(ref.Entity.Name, ref.Relation.ForeignKey)
			}
		}
		if err := it.Err(); err != nil {
			_ = it.Close()
			return err
		}
		if err := it.Close(); err != nil {
			return err
		}
	}
	return nil
}

// matchingRows scans an entity and keeps the rows the filter accepts. A nil
// filter matches everything.
func (c *Coordinator) matchingRows(ctx context.Context, tx storage.Tx, entity string, where *predicate.Where) ([]storage.Row, error) {
	var pred *predicate.Predicate
	if where != nil {
		def, err := c.reg.Entity(entity)
		if err != nil {
			return nil, err
		}
		pred, err = predicate.Build(c.reg, def, where)
		if err != nil {
			return nil, err
		}
	}
	fetcher := c.res.Fetcher(tx)
	it, err := tx.Scan(ctx, entity, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []storage.Row
	for it.Next() {
		row := it.Row()
		if pred != nil {
			ok, err := pred.Eval(ctx, row, fetcher)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, row)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
