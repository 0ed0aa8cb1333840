/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package querycore

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/querycore/aggregate"
	"github.com/suparena/querycore/document"
	qerrors "github.com/suparena/querycore/errors"
	"github.com/suparena/querycore/predicate"
	"github.com/suparena/querycore/resolve"
	"github.com/suparena/querycore/schema/commerce"
	"github.com/suparena/querycore/storage"
	"github.com/suparena/querycore/storage/memstore"
	"github.com/suparena/querycore/write"
)

// newClient seeds a catalog: Shoes > Running with one product and three
// variants at different prices and stock levels.
func newClient(t *testing.T) *Client {
	t.Helper()
	reg := commerce.MustNew()
	client := New(reg, memstore.New(reg))
	ctx := context.Background()

	shoes, err := client.Entity(commerce.Category).Create(ctx, write.CreateInput{
		Fields: storage.Row{"name": "Shoes"},
	}, nil)
	require.NoError(t, err)

	running, err := client.Entity(commerce.Category).Create(ctx, write.CreateInput{
		Fields: storage.Row{"name": "Running", "parent_id": shoes["id"]},
	}, nil)
	require.NoError(t, err)

	variants := []write.CreateInput{
		{Fields: storage.Row{"sku": "RUN-S", "price": "59.90", "stock": 5,
			"size": document.Object(map[string]document.Value{"eu": document.String("40")})}},
		{Fields: storage.Row{"sku": "RUN-M", "price": "59.90", "stock": 0, "status": "out_of_stock",
			"size": document.Object(map[string]document.Value{"eu": document.String("42")})}},
		{Fields: storage.Row{"sku": "RUN-L", "price": "64.90", "stock": 12,
			"size": document.Object(map[string]document.Value{"eu": document.String("44")})}},
	}
	_, err = client.Entity(commerce.Product).Create(ctx, write.CreateInput{
		Fields: storage.Row{
			"name":             "Trail Runner",
			"description":      "lightweight trail shoe",
			"category_id":      running["id"],
			"thumbnail_url":    "https://img.example/trail-runner",
			"images":           []string{"a.jpg", "b.jpg"},
			"related_products": []string{},
		},
		Nested: map[string][]write.CreateInput{"variants": variants},
	}, nil)
	require.NoError(t, err)

	return client
}

func TestFindUniqueBySecondaryKey(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	key := storage.UniqueKey{Fields: []string{"sku"}, Values: []any{"RUN-L"}}
	row, err := client.Entity(commerce.ProductVariant).FindUnique(ctx, key, nil)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.True(t, decimal.RequireFromString("64.90").Equal(row["price"].(decimal.Decimal)))

	t.Run("absent key returns nil", func(t *testing.T) {
		key := storage.UniqueKey{Fields: []string{"sku"}, Values: []any{"RUN-XL"}}
		row, err := client.Entity(commerce.ProductVariant).FindUnique(ctx, key, nil)
		require.NoError(t, err)
		assert.Nil(t, row)
	})
	t.Run("orThrow converts absence to not found", func(t *testing.T) {
		key := storage.UniqueKey{Fields: []string{"sku"}, Values: []any{"RUN-XL"}}
		_, err := client.Entity(commerce.ProductVariant).FindUniqueOrThrow(ctx, key, nil)
		require.Error(t, err)
		assert.True(t, qerrors.IsNotFound(err))
	})
}

func TestFindManyWithFilterOrderAndShape(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	rows, err := client.Entity(commerce.ProductVariant).FindMany(ctx, FindQuery{
		Where: &predicate.Where{Conds: []predicate.FieldCond{
			{Field: "stock", Op: predicate.Gt, Value: 0},
		}},
		Page: resolve.Page{OrderBy: []storage.Order{{Field: "stock", Desc: true}}},
		Shape: &resolve.Shape{
			Select: map[string]bool{"sku": true, "stock": true, "product": true},
			Relations: map[string]*resolve.RelationShape{
				"product": {Shape: &resolve.Shape{Select: map[string]bool{"name": true}}},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "RUN-L", rows[0]["sku"], "ordered by stock descending")
	assert.Equal(t, "RUN-S", rows[1]["sku"])
	_, priceReturned := rows[0]["price"]
	assert.False(t, priceReturned, "unselected scalar dropped by projection")

	product := rows[0]["product"].(storage.Row)
	assert.Equal(t, storage.Row{"name": "Trail Runner"}, product)
}

func TestFindFirst(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	row, err := client.Entity(commerce.ProductVariant).FindFirst(ctx, FindQuery{
		Page: resolve.Page{OrderBy: []storage.Order{{Field: "price"}, {Field: "sku"}}},
	})
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "RUN-M", row["sku"])

	t.Run("orThrow on an empty match", func(t *testing.T) {
		_, err := client.Entity(commerce.Order).FindFirstOrThrow(ctx, FindQuery{})
		require.Error(t, err)
		assert.True(t, qerrors.IsNotFound(err))
	})
}

func TestCountAndAggregate(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	set := client.Entity(commerce.ProductVariant)

	n, err := set.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = set.Count(ctx, &predicate.Where{Conds: []predicate.FieldCond{
		{Field: "status", Op: predicate.Equals, Value: "active"},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	out, err := set.Aggregate(ctx, nil, aggregate.Query{
		CountAll: true,
		Sum:      []string{"stock"},
		Avg:      []string{"price"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, int64(3), out[0][aggregate.CountAllField])
	assert.Equal(t, int64(17), out[0]["_sum.stock"])
	// (59.90 + 59.90 + 64.90) / 3 in exact decimal arithmetic.
	avg := out[0]["_avg.price"].(decimal.Decimal)
	assert.True(t, decimal.RequireFromString("61.5666666666666667").Sub(avg).Abs().
		LessThan(decimal.RequireFromString("0.000001")))

	t.Run("groupBy requires grouping fields", func(t *testing.T) {
		_, err := set.GroupBy(ctx, nil, aggregate.Query{CountAll: true})
		require.Error(t, err)
		assert.True(t, qerrors.IsValidation(err))
	})
	t.Run("grouped by status", func(t *testing.T) {
		out, err := set.GroupBy(ctx, nil, aggregate.Query{
			GroupBy:  []string{"status"},
			CountAll: true,
			OrderBy:  []storage.Order{{Field: "status"}},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "active", out[0]["status"])
		assert.Equal(t, int64(2), out[0][aggregate.CountAllField])
		assert.Equal(t, "out_of_stock", out[1]["status"])
	})
}

func TestCursorPaginationIsStable(t *testing.T) {
	reg := commerce.MustNew()
	client := New(reg, memstore.New(reg))
	ctx := context.Background()
	set := client.Entity(commerce.Attribute)

	for i := 0; i < 7; i++ {
		_, err := set.Create(ctx, write.CreateInput{Fields: storage.Row{
			"name":          fmt.Sprintf("attr-%d", i),
			"display_order": i % 3,
		}}, nil)
		require.NoError(t, err)
	}

	take := 3
	var got []string
	var cursor *storage.UniqueKey
	for {
		rows, err := set.FindMany(ctx, FindQuery{Page: resolve.Page{
			OrderBy: []storage.Order{{Field: "display_order"}},
			Cursor:  cursor,
			Take:    &take,
		}})
		require.NoError(t, err)
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			got = append(got, row["name"].(string))
		}
		last := rows[len(rows)-1]
		cursor = &storage.UniqueKey{Fields: []string{"id"}, Values: []any{last["id"]}}
	}

	require.Len(t, got, 7, "pagination covers every row")
	seen := map[string]bool{}
	for _, name := range got {
		assert.False(t, seen[name], "row %s paged twice", name)
		seen[name] = true
	}
}

func TestRelationCountsInShape(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	rows, err := client.Entity(commerce.Product).FindMany(ctx, FindQuery{
		Shape: &resolve.Shape{
			Counts: map[string]*predicate.Where{
				"variants": nil,
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	counts := rows[0][resolve.CountField].(map[string]int64)
	assert.Equal(t, int64(3), counts["variants"])

	t.Run("filtered count", func(t *testing.T) {
		rows, err := client.Entity(commerce.Product).FindMany(ctx, FindQuery{
			Shape: &resolve.Shape{
				Counts: map[string]*predicate.Where{
					"variants": {Conds: []predicate.FieldCond{{Field: "stock", Op: predicate.Gt, Value: 0}}},
				},
			},
		})
		require.NoError(t, err)
		counts := rows[0][resolve.CountField].(map[string]int64)
		assert.Equal(t, int64(2), counts["variants"])
	})
}

func TestDeleteRestrictThroughClient(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()
	categories := client.Entity(commerce.Category)

	parent, err := categories.FindFirst(ctx, FindQuery{
		Where: &predicate.Where{Conds: []predicate.FieldCond{{Field: "name", Op: predicate.Equals, Value: "Shoes"}}},
	})
	require.NoError(t, err)
	require.NotNil(t, parent)

	_, err = categories.Delete(ctx, storage.PrimaryKey(parent["id"].(string)))
	require.Error(t, err)
	assert.True(t, qerrors.IsConstraintViolation(err), "category with children is protected")

	t.Run("children resolve on the parent", func(t *testing.T) {
		got, err := categories.FindUnique(ctx, storage.PrimaryKey(parent["id"].(string)), &resolve.Shape{
			Relations: map[string]*resolve.RelationShape{
				"children": {Shape: &resolve.Shape{Select: map[string]bool{"name": true}}},
			},
		})
		require.NoError(t, err)
		children := got["children"].([]storage.Row)
		require.Len(t, children, 1)
		assert.Equal(t, "Running", children[0]["name"])
	})
}

func TestOrderItemSnapshotSurvivesVariantChanges(t *testing.T) {
	client := newClient(t)
	ctx := context.Background()

	variant, err := client.Entity(commerce.ProductVariant).FindUniqueOrThrow(ctx,
		storage.UniqueKey{Fields: []string{"sku"}, Values: []any{"RUN-S"}}, nil)
	require.NoError(t, err)

	order, err := client.Entity(commerce.Order).Create(ctx, write.CreateInput{
		Fields: storage.Row{
			"total_amount":  "59.90",
			"shipping_cost": "5.00",
			"tax_amount":    "0.00",
			"shipping_address": document.Object(map[string]document.Value{
				"city": document.String("Toronto"),
			}),
		},
	}, nil)
	require.NoError(t, err)

	item, err := client.Entity(commerce.OrderItem).Create(ctx, write.CreateInput{
		Fields: storage.Row{
			"order_id":          order["id"],
			"product_id":        variant["product_id"],
			"variant_id":        variant["id"],
			"quantity":          1,
			"price_at_purchase": "59.90",
			"variant_sku":       "RUN-S",
			"variant_attributes": document.Object(map[string]document.Value{
				"eu": document.String("40"),
			}),
		},
	}, nil)
	require.NoError(t, err)

	// Reprice the variant after the sale.
	_, err = client.Entity(commerce.ProductVariant).Update(ctx,
		storage.PrimaryKey(variant["id"].(string)),
		write.UpdateInput{"price": write.Set("79.90")}, nil)
	require.NoError(t, err)

	got, err := client.Entity(commerce.OrderItem).FindUniqueOrThrow(ctx,
		storage.PrimaryKey(item["id"].(string)), nil)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("59.90").Equal(got["price_at_purchase"].(decimal.Decimal)),
		"snapshot price keeps the value at purchase time")

	repriced, err := client.Entity(commerce.ProductVariant).FindUniqueOrThrow(ctx,
		storage.PrimaryKey(variant["id"].(string)), nil)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("79.90").Equal(repriced["price"].(decimal.Decimal)))
}

func TestConcurrentUpsertsConvergeToOneRow(t *testing.T) {
	reg := commerce.MustNew()
	client := New(reg, memstore.New(reg))
	ctx := context.Background()
	customers := client.Entity(commerce.Customer)

	key := storage.UniqueKey{Fields: []string{"email"}, Values: []any{"burst@example.com"}}
	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := customers.Upsert(ctx, key,
				write.CreateInput{Fields: storage.Row{
					"email":       "burst@example.com",
					"cognito_id":  "cog-burst",
					"first_name":  fmt.Sprintf("w%d", i),
					"order_count": 0,
				}},
				write.UpdateInput{"order_count": write.Increment(1)},
				nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		// A loser pushed past the wait window is the only acceptable failure.
		assert.True(t, qerrors.IsConcurrency(err), "unexpected error: %v", err)
	}
	require.Greater(t, succeeded, 0)

	n, err := customers.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := customers.FindUnique(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(succeeded-1), row["order_count"], "every update arm incremented once")
}

func TestTransactionGroup(t *testing.T) {
	reg := commerce.MustNew()
	client := New(reg, memstore.New(reg))
	ctx := context.Background()

	t.Run("rolls back atomically", func(t *testing.T) {
		boom := fmt.Errorf("abort")
		err := client.Transaction(ctx, func(tc *TxClient) error {
			if _, err := tc.Entity(commerce.Attribute).Create(ctx, write.CreateInput{
				Fields: storage.Row{"name": "Color"},
			}, nil); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		n, err := client.Entity(commerce.Attribute).Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("staged writes visible within the group", func(t *testing.T) {
		err := client.Transaction(ctx, func(tc *TxClient) error {
			attrs := tc.Entity(commerce.Attribute)
			created, err := attrs.Create(ctx, write.CreateInput{Fields: storage.Row{"name": "Size"}}, nil)
			if err != nil {
				return err
			}
			got, err := attrs.FindUnique(ctx, storage.PrimaryKey(created["id"].(string)), nil)
			if err != nil {
				return err
			}
			assert.NotNil(t, got)

			n, err := attrs.Count(ctx, nil)
			if err != nil {
				return err
			}
			assert.Equal(t, int64(1), n)
			return nil
		})
		require.NoError(t, err)

		n, err := client.Entity(commerce.Attribute).Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "committed group visible afterwards")
	})

	t.Run("andReturn variants refused inside a group", func(t *testing.T) {
		err := client.Transaction(ctx, func(tc *TxClient) error {
			_, err := tc.Entity(commerce.Attribute).CreateManyAndReturn(ctx, nil, false, nil)
			return err
		})
		require.Error(t, err)
		assert.True(t, qerrors.IsValidation(err))
	})
}

func TestUpsertKeepsSingleRowUnderRepeats(t *testing.T) {
	reg := commerce.MustNew()
	client := New(reg, memstore.New(reg))
	ctx := context.Background()
	customers := client.Entity(commerce.Customer)

	key := storage.UniqueKey{Fields: []string{"email"}, Values: []any{"repeat@example.com"}}
	for i := 0; i < 5; i++ {
		_, err := customers.Upsert(ctx, key,
			write.CreateInput{Fields: storage.Row{
				"email":      "repeat@example.com",
				"cognito_id": "cog-repeat",
				"first_name": "First",
			}},
			write.UpdateInput{"order_count": write.Set(i)},
			nil)
		require.NoError(t, err)
	}

	n, err := customers.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := customers.FindUnique(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), row["order_count"])
}
