/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package querycore

import (
	"context"
	"fmt"
	"strings"

	"github.com/suparena/querycore/aggregate"
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/project"
	"github.com/suparena/querycore/resolve"
	"github.com/suparena/querycore/storage"
	"github.com/suparena/querycore/write"
)

// FindQuery bundles the filter, ordering, pagination, and shape of a read.
type FindQuery struct {
	Where *predicate.Where
	Page  resolve.Page
	Shape *resolve.Shape
}

// EntitySet is the operation surface for one entity. Obtain one from
// Client.Entity or TxClient.Entity; the zero value is not usable.
type EntitySet struct {
	client *Client
	entity string
	ops    *write.Ops
}

// FindUnique returns the row addressed by a unique key, shaped and projected,
// or nil when no row matches.
func (s *EntitySet) FindUnique(ctx context.Context, key storage.UniqueKey, shape *resolve.Shape) (storage.Row, error) {
	def, err := s.client.reg.Entity(s.entity)
	if err != nil {
		return nil, err
	}
	var row storage.Row
	err = s.readView(ctx, func(tx storage.ReadTx) error {
		found, err := tx.Get(ctx, s.entity, key)
		if err != nil || found == nil {
			return err
		}
		rows := []storage.Row{found}
		if err := s.client.res.Resolve(ctx, tx, def, rows, shape); err != nil {
			return err
		}
		row = rows[0]
		return nil
	})
	if err != nil || row == nil {
		return nil, err
	}
	return project.Row(s.client.reg, def, row, shape)
}

// FindUniqueOrThrow is FindUnique failing with a not-found error instead of
// returning nil.
func (s *EntitySet) FindUniqueOrThrow(ctx context.Context, key storage.UniqueKey, shape *resolve.Shape) (storage.Row, error) {
	row, err := s.FindUnique(ctx, key, shape)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, notFound(s.entity, key)
	}
	return row, nil
}

// FindFirst returns the first row matching the query's filter under its
// ordering, or nil when nothing matches.
func (s *EntitySet) FindFirst(ctx context.Context, q FindQuery) (storage.Row, error) {
	one := 1
	q.Page.Take = &one
	rows, err := s.FindMany(ctx, q)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// FindFirstOrThrow is FindFirst failing with a not-found error instead of
// returning nil.
func (s *EntitySet) FindFirstOrThrow(ctx context.Context, q FindQuery) (storage.Row, error) {
	row, err := s.FindFirst(ctx, q)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, qerrors.NewNotFoundError(s.entity, "first match")
	}
	return row, nil
}

// FindMany returns every row matching the query's filter, ordered, paged,
// shaped, and projected.
func (s *EntitySet) FindMany(ctx context.Context, q FindQuery) ([]storage.Row, error) {
	def, err := s.client.reg.Entity(s.entity)
	if err != nil {
		return nil, err
	}
	var rows []storage.Row
	err = s.readView(ctx, func(tx storage.ReadTx) error {
		matched, err := s.matchRows(ctx, tx, q.Where)
		if err != nil {
			return err
		}
		paged, err := resolve.ApplyPage(def, matched, q.Page)
		if err != nil {
			return err
		}
		if err := s.client.res.Resolve(ctx, tx, def, paged, q.Shape); err != nil {
			return err
		}
		rows = paged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return project.Rows(s.client.reg, def, rows, q.Shape)
}

// Count returns how many rows match the filter.
func (s *EntitySet) Count(ctx context.Context, where *predicate.Where) (int64, error) {
	var n int64
	err := s.readView(ctx, func(tx storage.ReadTx) error {
		matched, err := s.matchRows(ctx, tx, where)
		if err != nil {
			return err
		}
		n = int64(len(matched))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Aggregate computes the aggregation over the rows matching the filter. With
// no grouping the result is a single row of global aggregates.
func (s *EntitySet) Aggregate(ctx context.Context, where *predicate.Where, q aggregate.Query) ([]storage.Row, error) {
	def, err := s.client.reg.Entity(s.entity)
	if err != nil {
		return nil, err
	}
	var out []storage.Row
	err = s.readView(ctx, func(tx storage.ReadTx) error {
		matched, err := s.matchRows(ctx, tx, where)
		if err != nil {
			return err
		}
		out, err = aggregate.Run(def, matched, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GroupBy is Aggregate requiring at least one grouping field.
func (s *EntitySet) GroupBy(ctx context.Context, where *predicate.Where, q aggregate.Query) ([]storage.Row, error) {
	if len(q.GroupBy) == 0 {
		return nil, qerrors.NewValidationError(s.entity, "groupBy requires at least one field")
	}
	return s.Aggregate(ctx, where, q)
}

// Create inserts one row, with nested child creates, and returns it shaped
// and projected.
func (s *EntitySet) Create(ctx context.Context, in write.CreateInput, shape *resolve.Shape) (storage.Row, error) {
	var row storage.Row
	var err error
	if s.ops != nil {
		row, err = s.ops.Create(ctx, s.entity, in)
	} else {
		row, err = s.client.coord.Create(ctx, s.entity, in)
	}
	if err != nil {
		return nil, err
	}
	return s.shapeOne(ctx, row, shape)
}

// CreateMany inserts a batch and returns the number of rows stored.
func (s *EntitySet) CreateMany(ctx context.Context, ins []write.CreateInput, skipDuplicates bool) (int64, error) {
	if s.ops != nil {
		return s.ops.CreateMany(ctx, s.entity, ins, skipDuplicates)
	}
	return s.client.coord.CreateMany(ctx, s.entity, ins, skipDuplicates)
}

// CreateManyAndReturn is CreateMany returning the stored rows projected.
func (s *EntitySet) CreateManyAndReturn(ctx context.Context, ins []write.CreateInput, skipDuplicates bool, shape *resolve.Shape) ([]storage.Row, error) {
	if s.ops != nil {
		return nil, qerrors.NewValidationError(s.entity, "createManyAndReturn is not available inside a transaction group")
	}
	rows, err := s.client.coord.CreateManyAndReturn(ctx, s.entity, ins, skipDuplicates)
	if err != nil {
		return nil, err
	}
	return s.shapeAll(ctx, rows, shape)
}

// Update mutates the row addressed by a unique key and returns it shaped and
// projected.
func (s *EntitySet) Update(ctx context.Context, key storage.UniqueKey, upd write.UpdateInput, shape *resolve.Shape) (storage.Row, error) {
	var row storage.Row
	var err error
	if s.ops != nil {
		row, err = s.ops.Update(ctx, s.entity, key, upd)
	} else {
		row, err = s.client.coord.Update(ctx, s.entity, key, upd)
	}
	if err != nil {
		return nil, err
	}
	return s.shapeOne(ctx, row, shape)
}

// UpdateMany applies one update to every matching row and returns the count.
func (s *EntitySet) UpdateMany(ctx context.Context, where *predicate.Where, upd write.UpdateInput) (int64, error) {
	if s.ops != nil {
		return s.ops.UpdateMany(ctx, s.entity, where, upd)
	}
	return s.client.coord.UpdateMany(ctx, s.entity, where, upd)
}

// UpdateManyAndReturn is UpdateMany returning the updated rows projected.
func (s *EntitySet) UpdateManyAndReturn(ctx context.Context, where *predicate.Where, upd write.UpdateInput, shape *resolve.Shape) ([]storage.Row, error) {
	if s.ops != nil {
		return nil, qerrors.NewValidationError(s.entity, "updateManyAndReturn is not available inside a transaction group")
	}
	rows, err := s.client.coord.UpdateManyAndReturn(ctx, s.entity, where, upd)
	if err != nil {
		return nil, err
	}
	return s.shapeAll(ctx, rows, shape)
}

// Upsert updates the row addressed by the unique key or creates it when
// absent, atomically, and returns the stored row shaped and projected.
func (s *EntitySet) Upsert(ctx context.Context, key storage.UniqueKey, create write.CreateInput, upd write.UpdateInput, shape *resolve.Shape) (storage.Row, error) {
	var row storage.Row
	var err error
	if s.ops != nil {
		row, err = s.ops.Upsert(ctx, s.entity, key, create, upd)
	} else {
		row, err = s.client.coord.Upsert(ctx, s.entity, key, create, upd)
	}
	if err != nil {
		return nil, err
	}
	return s.shapeOne(ctx, row, shape)
}

// Delete removes the row addressed by a unique key and returns its final
// state. Relations are not resolved on a deleted row.
func (s *EntitySet) Delete(ctx context.Context, key storage.UniqueKey) (storage.Row, error) {
	def, err := s.client.reg.Entity(s.entity)
	if err != nil {
		return nil, err
	}
	var row storage.Row
	if s.ops != nil {
		row, err = s.ops.Delete(ctx, s.entity, key)
	} else {
		row, err = s.client.coord.Delete(ctx, s.entity, key)
	}
	if err != nil {
		return nil, err
	}
	return project.Row(s.client.reg, def, row, nil)
}

// DeleteMany removes every matching row and returns the count.
func (s *EntitySet) DeleteMany(ctx context.Context, where *predicate.Where) (int64, error) {
	if s.ops != nil {
		return s.ops.DeleteMany(ctx, s.entity, where)
	}
	return s.client.coord.DeleteMany(ctx, s.entity, where)
}

// matchRows scans the entity and keeps the rows the filter accepts.
func (s *EntitySet) matchRows(ctx context.Context, tx storage.ReadTx, where *predicate.Where) ([]storage.Row, error) {
	var pred *predicate.Predicate
	if where != nil {
		def, err := s.client.reg.Entity(s.entity)
		if err != nil {
			return nil, err
		}
		pred, err = predicate.Build(s.client.reg, def, where)
		if err != nil {
			return nil, err
		}
	}
	fetcher := s.client.res.Fetcher(tx)
	it, err := tx.Scan(ctx, s.entity, nil)
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

// shapeOne resolves and projects a freshly written row.
func (s *EntitySet) shapeOne(ctx context.Context, row storage.Row, shape *resolve.Shape) (storage.Row, error) {
	rows, err := s.shapeAll(ctx, []storage.Row{row}, shape)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// shapeAll resolves and projects freshly written rows. Inside a transaction
// group resolution reads through the open transaction so staged writes are
// visible.
func (s *EntitySet) shapeAll(ctx context.Context, rows []storage.Row, shape *resolve.Shape) ([]storage.Row, error) {
	def, err := s.client.reg.Entity(s.entity)
	if err != nil {
		return nil, err
	}
	if shape != nil {
		if err := s.readView(ctx, func(tx storage.ReadTx) error {
			return s.client.res.Resolve(ctx, tx, def, rows, shape)
		}); err != nil {
			return nil, err
		}
	}
	return project.Rows(s.client.reg, def, rows, shape)
}

func keyText(key storage.UniqueKey) string {
	parts := make([]string, len(key.Values))
	for i, v := range key.Values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "/")
}
