package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema/schematest"
)

func TestParseState(t *testing.T) {
	for _, s := range []State{Unchanged, Added, Modified, Deleted} {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	got, err := ParseState("")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, got)

	_, err = ParseState("added")
	assert.Error(t, err)
}

func TestInstance_KeyAndTuple(t *testing.T) {
	reg := schematest.Northwind()
	detail := New(schematest.MustLookup(reg, "OrderDetail"), Added, map[string]any{"OrderID": int64(-1), "ProductID": int64(7)})

	assert.Equal(t, []any{int64(-1), int64(7)}, detail.Key())
	assert.Equal(t, detail.KeyString(),
		New(detail.Type, Unchanged, map[string]any{"OrderID": int64(-1), "ProductID": int64(7)}).KeyString())

	vals, complete := detail.Tuple([]string{"OrderID", "ProductID"})
	assert.True(t, complete)
	assert.Equal(t, []any{int64(-1), int64(7)}, vals)

	_, complete = detail.Tuple([]string{"OrderID", "Quantity"})
	assert.False(t, complete)
	assert.Equal(t, "OrderDetail[-1 7]", detail.String())
}

func TestInstance_ConcurrencyValue(t *testing.T) {
	reg := schematest.Northwind()
	order := New(schematest.MustLookup(reg, "Order"), Modified, map[string]any{"OrderID": int64(10), "RowVersion": int64(3)})

	v, ok := order.ConcurrencyValue()
	require.True(t, ok)
	assert.Equal(t, int64(3), v, "falls back to current values")

	order.Original = map[string]any{"RowVersion": int64(2)}
	v, ok = order.ConcurrencyValue()
	require.True(t, ok)
	assert.Equal(t, int64(2), v, "original value wins")

	product := New(schematest.MustLookup(reg, "Product"), Modified, nil)
	_, ok = product.ConcurrencyValue()
	assert.False(t, ok)
}

func TestInstance_LinksAndSnapshot(t *testing.T) {
	reg := schematest.Northwind()
	customer := New(schematest.MustLookup(reg, "Customer"), Unchanged, map[string]any{"CustomerID": int64(1)})
	order := New(schematest.MustLookup(reg, "Order"), Added, map[string]any{"OrderID": int64(-1)})

	assert.False(t, customer.Loaded("Orders"))
	customer.Link("Orders")
	assert.True(t, customer.Loaded("Orders"), "an empty navigation is still loaded")

	customer.Link("Orders", order)
	order.Link("Customer", customer)

	snap := customer.Snapshot()
	snap.Set("CompanyName", "Alfreds")
	assert.Nil(t, customer.Get("CompanyName"))
	assert.Nil(t, snap.Links)
}

func TestNewChangeSet(t *testing.T) {
	reg := schematest.Northwind()
	customer := New(schematest.MustLookup(reg, "Customer"), Unchanged, map[string]any{"CustomerID": int64(1)})
	first := New(schematest.MustLookup(reg, "Order"), Added, map[string]any{"OrderID": int64(-1)})
	second := New(schematest.MustLookup(reg, "Order"), Deleted, map[string]any{"OrderID": int64(5)})
	customer.Link("Orders", first, second)
	first.Link("Customer", customer)
	second.Link("Customer", customer)

	cs := NewChangeSet(customer, first)
	require.Len(t, cs.Entries, 3, "each reachable instance once")
	assert.Same(t, customer, cs.Entries[0])
	assert.Same(t, first, cs.Entries[1])
	assert.Same(t, second, cs.Entries[2])

	pending := cs.Pending()
	assert.Equal(t, []*Instance{first, second}, pending)
}

func TestSaveResult_Failed(t *testing.T) {
	assert.False(t, (&SaveResult{}).Failed())
	assert.True(t, (&SaveResult{Errors: []EntityError{{Kind: "ConcurrencyConflict"}}}).Failed())
}
