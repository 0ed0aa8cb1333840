/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/querycore/document"
	"github.com/suparena/querycore/schema"
)

func testDef(t *testing.T) *schema.EntityDef {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(&schema.EntityDef{
		Name: "Item",
		Fields: []schema.FieldDef{
			{Name: "id", Kind: schema.KindString},
			{Name: "rank", Kind: schema.KindInt, Nullable: true},
			{Name: "price", Kind: schema.KindDecimal},
			{Name: "tags", Kind: schema.KindStringList},
		},
	}))
	require.NoError(t, reg.Finalize())
	def, err := reg.Entity("Item")
	require.NoError(t, err)
	return def
}

func TestCompare(t *testing.T) {
	n, err := Compare(schema.KindInt, int64(2), int64(10))
	require.NoError(t, err)
	assert.Equal(t, -1, n)

	n, err = Compare(schema.KindDecimal, decimal.RequireFromString("1.50"), decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	earlier := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n, err = Compare(schema.KindTime, earlier.Add(time.Hour), earlier)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = Compare(schema.KindInt, "oops", int64(1))
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	eq, err := Equal(schema.KindString, nil, nil)
	require.NoError(t, err)
	assert.True(t, eq, "two nulls are equal")

	eq, err = Equal(schema.KindString, nil, "x")
	require.NoError(t, err)
	assert.False(t, eq)

	eq, err = Equal(schema.KindStringList, []string{"a", "b"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = Equal(schema.KindStringList, []string{"a"}, []string{"a", "b"})
	require.NoError(t, err)
	assert.False(t, eq)

	a, err := document.FromJSON([]byte(`{"n": 1.0}`))
	require.NoError(t, err)
	b, err := document.FromJSON([]byte(`{"n": 1}`))
	require.NoError(t, err)
	eq, err = Equal(schema.KindJson, a, b)
	require.NoError(t, err)
	assert.True(t, eq)
}

func TestSortRowsNullsFirstAndPKTiebreak(t *testing.T) {
	def := testDef(t)
	rows := []Row{
		{"id": "c", "rank": int64(1)},
		{"id": "a", "rank": nil},
		{"id": "b", "rank": int64(1)},
	}
	require.NoError(t, SortRows(def, rows, []Order{{Field: "rank"}}))

	ids := []string{rows[0]["id"].(string), rows[1]["id"].(string), rows[2]["id"].(string)}
	assert.Equal(t, []string{"a", "b", "c"}, ids, "null first, then ties broken by id ascending")
}

func TestSortRowsDescending(t *testing.T) {
	def := testDef(t)
	rows := []Row{
		{"id": "a", "price": decimal.NewFromInt(5)},
		{"id": "b", "price": decimal.NewFromInt(30)},
		{"id": "c", "price": decimal.NewFromInt(10)},
	}
	require.NoError(t, SortRows(def, rows, []Order{{Field: "price", Desc: true}}))
	assert.Equal(t, "b", rows[0]["id"])
	assert.Equal(t, "c", rows[1]["id"])
	assert.Equal(t, "a", rows[2]["id"])
}

func TestKeyString(t *testing.T) {
	ks, ok := KeyString([]any{"p1", int64(3)})
	require.True(t, ok)
	assert.Equal(t, "p1\x1f3", ks)

	_, ok = KeyString([]any{"p1", nil})
	assert.False(t, ok, "null key components never index")
}

func TestNormalizeValue(t *testing.T) {
	def := testDef(t)

	rank, _ := def.Field("rank")
	v, err := NormalizeValue(rank, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	price, _ := def.Field("price")
	v, err = NormalizeValue(price, "19.99")
	require.NoError(t, err)
	assert.True(t, v.(decimal.Decimal).Equal(decimal.RequireFromString("19.99")))

	_, err = NormalizeValue(price, true)
	require.Error(t, err)

	v, err = NormalizeValue(rank, nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestRowCloneCopiesStringLists(t *testing.T) {
	row := Row{"id": "x", "tags": []string{"a"}}
	cp := row.Clone()
	cp["tags"].([]string)[0] = "mutated"
	assert.Equal(t, "a", row["tags"].([]string)[0])
}
