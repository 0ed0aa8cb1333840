/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package document

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromJSONPreservesDecimalText(t *testing.T) {
	v, err := FromJSON([]byte(`{"price": 0.1, "qty": 3}`))
	require.NoError(t, err)

	price, ok := v.Get("price")
	require.True(t, ok)
	want := decimal.RequireFromString("0.1")
	assert.True(t, price.NumberValue().Equal(want), "0.1 must not pick up float drift")

	data, err := v.MarshalJSON()
	require.NoError(t, err)
	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.True(t, v.Equal(back))
}

func TestGetWalksNestedObjects(t *testing.T) {
	v, err := FromJSON([]byte(`{"dims": {"w": 10, "h": 20}, "tags": ["a", "b"]}`))
	require.NoError(t, err)

	w, ok := v.Get("dims", "w")
	require.True(t, ok)
	assert.True(t, w.NumberValue().Equal(decimal.NewFromInt(10)))

	_, ok = v.Get("dims", "depth")
	assert.False(t, ok, "absent path must not resolve")

	_, ok = v.Get("tags", "0")
	assert.False(t, ok, "array elements are not addressable by object path")
}

func TestEqualComparesNumbersByValue(t *testing.T) {
	a, err := FromJSON([]byte(`{"n": 1.50}`))
	require.NoError(t, err)
	b, err := FromJSON([]byte(`{"n": 1.5}`))
	require.NoError(t, err)
	assert.True(t, a.Equal(b), "1.50 and 1.5 are the same number")
}

func TestContains(t *testing.T) {
	v, err := FromJSON([]byte(`["red", "blue", {"k": 1}]`))
	require.NoError(t, err)

	assert.True(t, v.Contains(String("red")))
	obj, err := FromJSON([]byte(`{"k": 1}`))
	require.NoError(t, err)
	assert.True(t, v.Contains(obj), "deep equality on array members")
	assert.False(t, v.Contains(String("green")))
}

func TestNullAndKindAccessors(t *testing.T) {
	assert.Equal(t, KindNull, Null().Kind())

	v, err := FromJSON([]byte(`{"a": null}`))
	require.NoError(t, err)
	a, ok := v.Get("a")
	require.True(t, ok, "an explicit json null is present")
	assert.Equal(t, KindNull, a.Kind())
}
