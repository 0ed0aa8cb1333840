/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// transactLimit is the DynamoDB TransactWriteItems item cap.
const transactLimit = 100

// pendingRow is one buffered mutation. A nil row is a delete. old holds the
// committed row at first touch so Commit can retire stale unique pointers.
type pendingRow struct {
	row storage.Row
	old storage.Row
}

type writeTx struct {
	e *Engine

	// pending maps entity -> id -> buffered mutation.
	pending map[string]map[string]*pendingRow
	// staged maps entity+"\x00"+index -> key-string -> owning id, mirroring
	// the unique pointers this transaction would write.
	staged map[string]map[string]string

	deadline time.Time
	done     bool
}

func stagedKey(entity, sig string) string { return entity + "\x00" + sig }

func indexSig(fields []string) string { return strings.Join(fields, ",") }

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

// effectiveRow resolves a row through the overlay, falling back to a remote
// read. The boolean reports existence in the transaction's view.
func (tx *writeTx) effectiveRow(ctx context.Context, def *schema.EntityDef, id string) (storage.Row, bool, error) {
	if ents, ok := tx.pending[def.Name]; ok {
		if p, ok := ents[id]; ok {
			return p.row, p.row != nil, nil
		}
	}
	row, err := tx.e.getRow(ctx, def, id)
	if err != nil {
		return nil, false, err
	}
	return row, row != nil, nil
}

// touch returns the pending entry for id, creating it with the committed row
// as baseline on first contact.
func (tx *writeTx) touch(ctx context.Context, def *schema.EntityDef, id string) (*pendingRow, error) {
	ents, ok := tx.pending[def.Name]
	if !ok {
		ents = make(map[string]*pendingRow)
		tx.pending[def.Name] = ents
	}
	if p, ok := ents[id]; ok {
		return p, nil
	}
	old, err := tx.e.getRow(ctx, def, id)
	if err != nil {
		return nil, err
	}
	p := &pendingRow{old: old}
	ents[id] = p
	return p, nil
}

func rowKeyString(row storage.Row, fields []string) (string, bool) {
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = row[f]
	}
	return storage.KeyString(values)
}

// lookupUnique resolves a unique key through the overlay, then remotely. A
// remote hit is revalidated against the overlay because a buffered update or
// delete can have retired it.
func (tx *writeTx) lookupUnique(ctx context.Context, def *schema.EntityDef, fields []string, ks string) (string, bool, error) {
	if idx, ok := tx.staged[stagedKey(def.Name, indexSig(fields))]; ok {
		if id, ok := idx[ks]; ok {
			return id, true, nil
		}
	}
	id, err := tx.e.getPointer(ctx, def.Name, fields, ks)
	if err != nil {
		return "", false, err
	}
	if id == "" {
		return "", false, nil
	}
	row, exists, err := tx.effectiveRow(ctx, def, id)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, nil
	}
	if current, valid := rowKeyString(row, fields); valid && current == ks {
		return id, true, nil
	}
	return "", false, nil
}

func (tx *writeTx) restage(def *schema.EntityDef, id string, row storage.Row) {
	for _, idx := range def.UniqueIndexes() {
		key := stagedKey(def.Name, indexSig(idx))
		stagedIdx := tx.staged[key]
		if stagedIdx == nil {
			stagedIdx = make(map[string]string)
			tx.staged[key] = stagedIdx
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

func (tx *writeTx) checkUniques(ctx context.Context, def *schema.EntityDef, id string, row storage.Row) error {
	for _, idx := range def.UniqueIndexes() {
		ks, ok := rowKeyString(row, idx)
		if !ok {
			continue
		}
		owner, found, err := tx.lookupUnique(ctx, def, idx, ks)
		if err != nil {
			return err
		}
		if found && owner != id {
			return qerrors.NewConstraintViolationError(def.Name, idx...)
		}
	}
	return nil
}

func (tx *writeTx) Insert(ctx context.Context, entity string, row storage.Row) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	def, err := tx.e.reg.Entity(entity)
	if err != nil {
		return err
	}
	id, _ := row[schema.PrimaryKey].(string)
	if id == "" {
		return qerrors.NewValidationError(entity+".id", "missing primary key")
	}
	if _, exists, err := tx.effectiveRow(ctx, def, id); err != nil {
		return err
	} else if exists {
		return qerrors.NewConstraintViolationError(entity, schema.PrimaryKey)
	}
	if err := tx.checkUniques(ctx, def, id, row); err != nil {
		return err
	}
	p, err := tx.touch(ctx, def, id)
	if err != nil {
		return err
	}
	p.row = row.Clone()
	tx.restage(def, id, row)
	return nil
}

func (tx *writeTx) Update(ctx context.Context, entity string, id string, row storage.Row) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	def, err := tx.e.reg.Entity(entity)
	if err != nil {
		return err
	}
	if _, exists, err := tx.effectiveRow(ctx, def, id); err != nil {
		return err
	} else if !exists {
		return qerrors.NewNotFoundError(entity, id)
	}
	if err := tx.checkUniques(ctx, def, id, row); err != nil {
		return err
	}
	p, err := tx.touch(ctx, def, id)
	if err != nil {
		return err
	}
	p.row = row.Clone()
	tx.restage(def, id, row)
	return nil
}

func (tx *writeTx) Delete(ctx context.Context, entity string, id string) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	def, err := tx.e.reg.Entity(entity)
	if err != nil {
		return err
	}
	if _, exists, err := tx.effectiveRow(ctx, def, id); err != nil {
		return err
	} else if !exists {
		return qerrors.NewNotFoundError(entity, id)
	}
	p, err := tx.touch(ctx, def, id)
	if err != nil {
		return err
	}
	p.row = nil
	tx.restage(def, id, nil)
	return nil
}

func (tx *writeTx) Get(ctx context.Context, entity string, key storage.UniqueKey) (storage.Row, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	def, err := tx.e.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	if len(key.Fields) == 1 && key.Fields[0] == schema.PrimaryKey {
		id, _ := key.Values[0].(string)
		if id == "" {
			return nil, nil
		}
		row, exists, err := tx.effectiveRow(ctx, def, id)
		if err != nil || !exists {
			return nil, err
		}
		return row.Clone(), nil
	}
	if !hasUniqueIndex(def, key.Fields) {
		return nil, qerrors.NewValidationError(entity, "no unique constraint on the given fields")
	}
	ks, ok := storage.KeyString(key.Values)
	if !ok {
		return nil, nil
	}
	id, found, err := tx.lookupUnique(ctx, def, key.Fields, ks)
	if err != nil || !found {
		return nil, err
	}
	row, exists, err := tx.effectiveRow(ctx, def, id)
	if err != nil || !exists {
		return nil, err
	}
	return row.Clone(), nil
}

func (tx *writeTx) Scan(ctx context.Context, entity string, order []storage.Order) (storage.Iterator, error) {
	if err := tx.check(ctx); err != nil {
		return nil, err
	}
	def, err := tx.e.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	rows, err := tx.e.scanRows(ctx, def)
	if err != nil {
		return nil, err
	}
	if ents, ok := tx.pending[entity]; ok {
		merged := rows[:0]
		for _, row := range rows {
			id, _ := row[schema.PrimaryKey].(string)
			if _, overridden := ents[id]; !overridden {
				merged = append(merged, row)
			}
		}
		rows = merged
		for _, p := range ents {
			if p.row != nil {
				rows = append(rows, p.row.Clone())
			}
		}
	}
	if err := storage.SortRows(def, rows, order); err != nil {
		return nil, err
	}
	return &sliceIterator{rows: rows}, nil
}

// itemMeta ties a transact item back to the constraint it enforces so a
// cancellation reason can be mapped to a useful error.
type itemMeta struct {
	entity string
	fields []string
}

func (tx *writeTx) Commit(ctx context.Context) error {
	if err := tx.check(ctx); err != nil {
		return err
	}
	tx.done = true

	var items []types.TransactWriteItem
	var metas []itemMeta
	for entity, ents := range tx.pending {
		def, err := tx.e.reg.Entity(entity)
		if err != nil {
			return err
		}
		for id, p := range ents {
			batch, batchMetas, err := tx.e.itemsFor(def, id, p)
			if err != nil {
				return err
			}
			items = append(items, batch...)
			metas = append(metas, batchMetas...)
		}
	}
	if len(items) == 0 {
		return nil
	}
	if len(items) > transactLimit {
		return qerrors.NewValidationError("storage", "transaction exceeds the DynamoDB write limit")
	}

	_, err := tx.e.client.TransactWriteItems(ctx, &sdk.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return mapCancellation(canceled, metas)
		}
		var conflict *types.TransactionConflictException
		if errors.As(err, &conflict) {
			return qerrors.NewConcurrencyError("storage", "transaction conflict")
		}
		return err
	}
	tx.e.logger.Debug().Int("items", len(items)).Msg("transact write committed")
	return nil
}

func (tx *writeTx) Rollback() error {
	tx.done = true
	tx.pending = nil
	tx.staged = nil
	return nil
}

// itemsFor renders one buffered mutation as transact items: the data row plus
// pointer maintenance for every unique index whose key changed.
func (e *Engine) itemsFor(def *schema.EntityDef, id string, p *pendingRow) ([]types.TransactWriteItem, []itemMeta, error) {
	var items []types.TransactWriteItem
	var metas []itemMeta

	pk := entityPK(def.Name)
	if p.row == nil {
		items = append(items, types.TransactWriteItem{Delete: &types.Delete{
			TableName: &e.table,
			Key: map[string]types.AttributeValue{
				attrPK: &types.AttributeValueMemberS{Value: pk},
				attrSK: &types.AttributeValueMemberS{Value: rowSK(id)},
			},
		}})
		metas = append(metas, itemMeta{entity: def.Name})
	} else {
		av, err := encodeRow(def, p.row)
		if err != nil {
			return nil, nil, err
		}
		av[attrPK] = &types.AttributeValueMemberS{Value: pk}
		av[attrSK] = &types.AttributeValueMemberS{Value: rowSK(id)}
		put := &types.Put{TableName: &e.table, Item: av}
		if p.old == nil {
			// Fresh insert: fail if someone committed this id first.
			put.ConditionExpression = aws.String("attribute_not_exists(PK)")
		}
		items = append(items, types.TransactWriteItem{Put: put})
		metas = append(metas, itemMeta{entity: def.Name, fields: []string{schema.PrimaryKey}})
	}

	for _, idx := range def.UniqueIndexes() {
		var oldKS, newKS string
		var oldOK, newOK bool
		if p.old != nil {
			oldKS, oldOK = rowKeyString(p.old, idx)
		}
		if p.row != nil {
			newKS, newOK = rowKeyString(p.row, idx)
		}
		if oldOK && (!newOK || oldKS != newKS) {
			items = append(items, types.TransactWriteItem{Delete: &types.Delete{
				TableName: &e.table,
				Key: map[string]types.AttributeValue{
					attrPK: &types.AttributeValueMemberS{Value: pk},
					attrSK: &types.AttributeValueMemberS{Value: uniqueSK(idx, oldKS)},
				},
			}})
			metas = append(metas, itemMeta{entity: def.Name})
		}
		if newOK && (!oldOK || oldKS != newKS) {
			item, err := attributevalue.MarshalMap(uniquePointer{
				PK:    pk,
				SK:    uniqueSK(idx, newKS),
				RowID: id,
			})
			if err != nil {
				return nil, nil, err
			}
			items = append(items, types.TransactWriteItem{Put: &types.Put{
				TableName:           &e.table,
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}})
			metas = append(metas, itemMeta{entity: def.Name, fields: idx})
		}
	}
	return items, metas, nil
}

// mapCancellation turns a canceled transaction into the error the losing
// writer should see: a constraint violation when a guarded pointer or insert
// condition failed, a concurrency error otherwise.
func mapCancellation(canceled *types.TransactionCanceledException, metas []itemMeta) error {
	for i, reason := range canceled.CancellationReasons {
		if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" || i >= len(metas) {
			continue
		}
		m := metas[i]
		if len(m.fields) > 0 {
			return qerrors.NewConstraintViolationError(m.entity, m.fields...)
		}
	}
	return qerrors.NewConcurrencyError("storage", "transaction canceled")
}
