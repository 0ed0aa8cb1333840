/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/schema"
	"github.com/suparena/querycore/storage"
)

// Engine is a storage.Engine backed by one DynamoDB table. Writers do not
// take a global lock; unique constraints and insert visibility resolve through
// conditional writes inside a single TransactWriteItems call, so the loser of
// a race observes a constraint or concurrency error at commit.
type Engine struct {
	client *sdk.Client
	table  string
	reg    *schema.Registry
	logger zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger attaches a structured logger; the default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine over an existing DynamoDB client and table.
func New(client *sdk.Client, table string, reg *schema.Registry, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		table:  table,
		reg:    reg,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// View runs fn against the table. DynamoDB reads are individually consistent
// rather than snapshot-isolated; the query layer tolerates that the same way
// it tolerates phantom rows between two calls.
func (e *Engine) View(ctx context.Context, fn func(storage.ReadTx) error) error {
	return fn(&readTx{e: e})
}

// Begin opens a write transaction. Mutations buffer locally and flush on
// Commit as one TransactWriteItems request.
func (e *Engine) Begin(ctx context.Context, opts storage.TxOptions) (storage.Tx, error) {
	tx := &writeTx{
		e:       e,
		pending: make(map[string]map[string]*pendingRow),
		staged:  make(map[string]map[string]string),
	}
	if opts.Timeout > 0 {
		tx.deadline = time.Now().Add(opts.Timeout)
	}
	return tx, nil
}

type readTx struct {
	e *Engine
}

func (r *readTx) Get(ctx context.Context, entity string, key storage.UniqueKey) (storage.Row, error) {
	def, err := r.e.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	if len(key.Fields) == 1 && key.Fields[0] == schema.PrimaryKey {
		id, _ := key.Values[0].(string)
		if id == "" {
			return nil, nil
		}
		return r.e.getRow(ctx, def, id)
	}
	if !hasUniqueIndex(def, key.Fields) {
		return nil, qerrors.NewValidationError(entity, "no unique constraint on the given fields")
	}
	ks, ok := storage.KeyString(key.Values)
	if !ok {
		return nil, nil
	}
	id, err := r.e.getPointer(ctx, entity, key.Fields, ks)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	return r.e.getRow(ctx, def, id)
}

func (r *readTx) Scan(ctx context.Context, entity string, order []storage.Order) (storage.Iterator, error) {
	def, err := r.e.reg.Entity(entity)
	if err != nil {
		return nil, err
	}
	rows, err := r.e.scanRows(ctx, def)
	if err != nil {
		return nil, err
	}
	if err := storage.SortRows(def, rows, order); err != nil {
		return nil, err
	}
	return &sliceIterator{rows: rows}, nil
}

func (e *Engine) getRow(ctx context.Context, def *schema.EntityDef, id string) (storage.Row, error) {
	out, err := e.client.GetItem(ctx, &sdk.GetItemInput{
		TableName: &e.table,
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: entityPK(def.Name)},
			attrSK: &types.AttributeValueMemberS{Value: rowSK(id)},
		},
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return decodeRow(def, out.Item)
}

// uniquePointer is the item backing one unique-constraint entry.
type uniquePointer struct {
	PK    string `dynamodbav:"PK"`
	SK    string `dynamodbav:"SK"`
	RowID string `dynamodbav:"row_id"`
}

func (e *Engine) getPointer(ctx context.Context, entity string, fields []string, keyString string) (string, error) {
	out, err := e.client.GetItem(ctx, &sdk.GetItemInput{
		TableName: &e.table,
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: entityPK(entity)},
			attrSK: &types.AttributeValueMemberS{Value: uniqueSK(fields, keyString)},
		},
	})
	if err != nil {
		return "", err
	}
	if out.Item == nil {
		return "", nil
	}
	var ptr uniquePointer
	if err := attributevalue.UnmarshalMap(out.Item, &ptr); err != nil {
		return "", err
	}
	return ptr.RowID, nil
}

// scanRows pages through every data row of an entity.
func (e *Engine) scanRows(ctx context.Context, def *schema.EntityDef) ([]storage.Row, error) {
	keyCond := "PK = :pk AND begins_with(SK, :prefix)"
	exprVals := map[string]types.AttributeValue{
		":pk":     &types.AttributeValueMemberS{Value: entityPK(def.Name)},
		":prefix": &types.AttributeValueMemberS{Value: "R#"},
	}

	var rows []storage.Row
	var startKey map[string]types.AttributeValue
	for {
		out, err := e.client.Query(ctx, &sdk.QueryInput{
			TableName:                 &e.table,
			KeyConditionExpression:    aws.String(keyCond),
			ExpressionAttributeValues: exprVals,
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			row, err := decodeRow(def, item)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
		if out.LastEvaluatedKey == nil {
			return rows, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func hasUniqueIndex(def *schema.EntityDef, fields []string) bool {
	for _, idx := range def.UniqueIndexes() {
		if equalFields(idx, fields) {
			return true
		}
	}
	return false
}

func equalFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type sliceIterator struct {
	rows []storage.Row
	pos  int
	cur  storage.Row
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.rows) {
		return false
	}
	it.cur = it.rows[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Row() storage.Row { return it.cur }
func (it *sliceIterator) Err() error       { return nil }
func (it *sliceIterator) Close() error     { return nil }
