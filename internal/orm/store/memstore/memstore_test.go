package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema/schematest"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

func newStore(t *testing.T) (*Store, *schema.Registry) {
	t.Helper()
	reg := schematest.Northwind()
	s := New(reg)
	require.NoError(t, s.Load("Customer",
		store.Row{"CustomerID": 1, "CompanyName": "Alfreds", "RowVersion": 1},
		store.Row{"CustomerID": 2, "CompanyName": "Ana Trujillo", "RowVersion": 1},
	))
	require.NoError(t, s.Load("Order",
		store.Row{"OrderID": 10, "CustomerID": 1, "ShipName": "Berlin", "RowVersion": 1},
	))
	return s, reg
}

func begin(t *testing.T, s *Store) store.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background(), transaction.Options{})
	require.NoError(t, err)
	return tx
}

func TestStore_InsertAssignsIdentity(t *testing.T) {
	s, reg := newStore(t)
	customer := schematest.MustLookup(reg, "Customer")
	ctx := context.Background()

	tx := begin(t, s)
	id, err := tx.Insert(ctx, customer, store.Row{"CustomerID": int64(-1), "CompanyName": "Around the Horn", "RowVersion": int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), id, "sequence continues after loaded rows")

	_, visible := s.Get("Customer", int64(3))
	assert.False(t, visible, "uncommitted rows are not visible")

	require.NoError(t, tx.Commit())
	row, ok := s.Get("Customer", int64(3))
	require.True(t, ok)
	assert.Equal(t, "Around the Horn", row["CompanyName"])
}

func TestStore_RollbackDiscards(t *testing.T) {
	s, reg := newStore(t)
	product := schematest.MustLookup(reg, "Product")
	ctx := context.Background()

	tx := begin(t, s)
	for _, name := range []string{"Chai", "Chang", "Aniseed"} {
		_, err := tx.Insert(ctx, product, store.Row{"ProductName": name, "UnitPrice": "10", "Discontinued": false})
		require.NoError(t, err)
	}
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "rollback is idempotent")

	assert.Equal(t, 0, s.Count("Product"))
}

func TestStore_Constraints(t *testing.T) {
	s, reg := newStore(t)
	order := schematest.MustLookup(reg, "Order")
	customer := schematest.MustLookup(reg, "Customer")
	ctx := context.Background()

	t.Run("foreign key on insert", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		_, err := tx.Insert(ctx, order, store.Row{"CustomerID": int64(99), "RowVersion": int64(1)})
		assert.ErrorIs(t, err, ormerrors.ErrReferentialIntegrityViolation)
	})

	t.Run("not null on insert", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		_, err := tx.Insert(ctx, customer, store.Row{"RowVersion": int64(1)})
		assert.ErrorIs(t, err, ormerrors.ErrValidationFailed)
	})

	t.Run("delete referenced principal", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		_, err := tx.Delete(ctx, customer, store.Row{"CustomerID": int64(1)}, nil)
		assert.ErrorIs(t, err, ormerrors.ErrReferentialIntegrityViolation)
	})

	t.Run("delete dependent then principal", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		n, err := tx.Delete(ctx, order, store.Row{"OrderID": int64(10)}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = tx.Delete(ctx, customer, store.Row{"CustomerID": int64(1)}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("foreign key to row inserted in same transaction", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		id, err := tx.Insert(ctx, customer, store.Row{"CompanyName": "New", "RowVersion": int64(1)})
		require.NoError(t, err)
		_, err = tx.Insert(ctx, order, store.Row{"CustomerID": id, "RowVersion": int64(1)})
		assert.NoError(t, err)
	})
}

func TestStore_GuardedUpdate(t *testing.T) {
	s, reg := newStore(t)
	customer := schematest.MustLookup(reg, "Customer")
	ctx := context.Background()

	tx := begin(t, s)
	n, err := tx.Update(ctx, customer, store.Row{"CustomerID": int64(1)},
		store.Row{"CompanyName": "Stale", "RowVersion": int64(8)},
		&store.Guard{Property: "RowVersion", Value: int64(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = tx.Update(ctx, customer, store.Row{"CustomerID": int64(1)},
		store.Row{"CompanyName": "Fresh", "RowVersion": int64(2)},
		&store.Guard{Property: "RowVersion", Value: int64(1)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = tx.Update(ctx, customer, store.Row{"CustomerID": int64(42)}, store.Row{"CompanyName": "Ghost"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, tx.Commit())
	row, _ := s.Get("Customer", int64(1))
	assert.Equal(t, "Fresh", row["CompanyName"])
	assert.Equal(t, int64(2), row["RowVersion"])
}

func TestStore_Query(t *testing.T) {
	s, reg := newStore(t)
	customer := schematest.MustLookup(reg, "Customer")
	require.NoError(t, s.Load("Customer", store.Row{"CustomerID": 3, "CompanyName": "Around the Horn", "RowVersion": 1}))
	ctx := context.Background()

	rows, err := s.Query(ctx, customer, store.Query{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(1), rows[0]["CustomerID"], "default order is by key")

	rows, err = s.Query(ctx, customer, store.Query{OrderBy: []store.Order{{Property: "CompanyName", Descending: true}}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Around the Horn", rows[0]["CompanyName"])
	assert.Equal(t, "Ana Trujillo", rows[1]["CompanyName"])

	rows, err = s.Query(ctx, customer, store.Query{Where: []store.Predicate{{Property: "CustomerID", Values: []any{int64(2), int64(3)}}}, Offset: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0]["CustomerID"])

	rows, err = s.Query(ctx, customer, store.Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestStore_SingleWriter(t *testing.T) {
	s, _ := newStore(t)
	tx := begin(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Begin(ctx, transaction.Options{})
	assert.ErrorIs(t, err, ormerrors.ErrStoreUnavailable)

	require.NoError(t, tx.Commit())
	next := begin(t, s)
	require.NoError(t, next.Rollback())
}

func TestStore_Closed(t *testing.T) {
	s, reg := newStore(t)
	require.NoError(t, s.Close())

	_, err := s.Query(context.Background(), schematest.MustLookup(reg, "Customer"), store.Query{})
	assert.True(t, ormerrors.IsRetryable(err))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, compare(schema.KindDecimal, "9.5", "10"))
	assert.Equal(t, 1, compare(schema.KindBoolean, true, false))
	assert.Equal(t, -1, compare(schema.KindInteger, nil, int64(0)))
	assert.Equal(t, 0, compare(schema.KindString, "a", "a"))
}
