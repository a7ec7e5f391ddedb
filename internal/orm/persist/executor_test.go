package persist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/bundle"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema/schematest"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store/memstore"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	reg      *schema.Registry
	store    *memstore.Store
	executor *Executor
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	reg := schematest.Northwind()
	s := memstore.New(reg)
	require.NoError(t, s.Load("Customer", store.Row{"CustomerID": 1, "CompanyName": "Alfreds", "RowVersion": 3}))
	require.NoError(t, s.Load("Order", store.Row{"OrderID": 10, "CustomerID": 1, "ShipName": "Berlin", "RowVersion": 1}))

	tm := transaction.NewManager[store.Tx](s, transaction.Config{})
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return &harness{reg: reg, store: s, executor: NewExecutor(tm, zaptest.NewLogger(t), opts...)}
}

func (h *harness) inst(typeName string, state entity.State, values map[string]any) *entity.Instance {
	return entity.New(schematest.MustLookup(h.reg, typeName), state, values)
}

func (h *harness) save(t *testing.T, roots ...*entity.Instance) (*entity.SaveResult, error) {
	t.Helper()
	ops, err := bundle.NewResolver(h.reg).Resolve(entity.NewChangeSet(roots...))
	require.NoError(t, err)
	return h.executor.Execute(context.Background(), ops)
}

func TestExecute_KeyMappingPropagatesToDependent(t *testing.T) {
	h := newHarness(t)
	order := h.inst("Order", entity.Added, map[string]any{"OrderID": int64(-1), "CustomerID": int64(-1)})
	customer := h.inst("Customer", entity.Added, map[string]any{"CustomerID": int64(-1), "CompanyName": "Around the Horn"})

	res, err := h.save(t, order, customer)
	require.NoError(t, err)
	require.False(t, res.Failed())

	assert.ElementsMatch(t, []entity.KeyMapping{
		{EntityType: "Customer", TempValue: int64(-1), RealValue: int64(2)},
		{EntityType: "Order", TempValue: int64(-1), RealValue: int64(11)},
	}, res.KeyMappings)

	row, ok := h.store.Get("Order", int64(11))
	require.True(t, ok)
	assert.Equal(t, int64(2), row["CustomerID"])
	assert.Equal(t, int64(1), row["RowVersion"], "inserts start the version at 1")

	require.Len(t, res.Entities, 2)
	assert.Equal(t, "Order", res.Entities[0].TypeName(), "entities follow submission order")
	assert.Equal(t, entity.Unchanged, res.Entities[0].State)
	assert.Equal(t, int64(2), res.Entities[1].Get("CustomerID"))
}

func TestExecute_AtomicOnFailure(t *testing.T) {
	h := newHarness(t)
	p1 := h.inst("Product", entity.Added, map[string]any{"ProductID": int64(-1), "ProductName": "Chai", "UnitPrice": "18", "Discontinued": false})
	p2 := h.inst("Product", entity.Added, map[string]any{"ProductID": int64(-2), "ProductName": "Chang", "UnitPrice": "19", "Discontinued": false})
	bad := h.inst("Order", entity.Added, map[string]any{"OrderID": int64(-3), "CustomerID": int64(999)})

	res, err := h.save(t, p1, p2, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ormerrors.ErrReferentialIntegrityViolation)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "ReferentialIntegrityViolation", res.Errors[0].Kind)
	assert.Equal(t, "Order", res.Errors[0].EntityType)
	assert.Empty(t, res.KeyMappings)
	assert.Empty(t, res.Entities)

	assert.Equal(t, 0, h.store.Count("Product"), "earlier inserts are rolled back")
	assert.Equal(t, int64(-1), p1.Get("ProductID"), "submitted values are restored")
	assert.Nil(t, bad.Get("RowVersion"))
}

func TestExecute_StaleConcurrencyValue(t *testing.T) {
	h := newHarness(t)
	stale := h.inst("Customer", entity.Modified, map[string]any{"CustomerID": int64(1), "CompanyName": "Renamed", "RowVersion": int64(2)})

	res, err := h.save(t, stale)
	assert.ErrorIs(t, err, ormerrors.ErrConcurrencyConflict)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, []any{int64(1)}, res.Errors[0].Key)

	row, _ := h.store.Get("Customer", int64(1))
	assert.Equal(t, "Alfreds", row["CompanyName"])
	assert.Equal(t, int64(3), row["RowVersion"])
	assert.Equal(t, int64(2), stale.Get("RowVersion"))
}

func TestExecute_UpdateWritesChangedColumnsAndStamps(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Load("Customer", store.Row{"CustomerID": 5, "CompanyName": "Bólido", "Phone": "555-0100", "RowVersion": 7}))

	c := h.inst("Customer", entity.Modified, map[string]any{
		"CustomerID": int64(5), "CompanyName": "Bólido Comidas", "Phone": "stale-copy", "RowVersion": int64(7),
	})
	c.Original = map[string]any{"CompanyName": "Bólido", "RowVersion": int64(7)}

	res, err := h.save(t, c)
	require.NoError(t, err)

	row, _ := h.store.Get("Customer", int64(5))
	assert.Equal(t, "Bólido Comidas", row["CompanyName"])
	assert.Equal(t, "555-0100", row["Phone"], "properties without originals are not written")
	assert.Equal(t, int64(8), row["RowVersion"])
	assert.Equal(t, int64(8), res.Entities[0].Get("RowVersion"))
}

func TestExecute_DeleteGuarded(t *testing.T) {
	h := newHarness(t)

	res, err := h.save(t, h.inst("Order", entity.Deleted, map[string]any{"OrderID": int64(10), "RowVersion": int64(9)}))
	assert.ErrorIs(t, err, ormerrors.ErrConcurrencyConflict)
	assert.True(t, res.Failed())

	order := h.inst("Order", entity.Deleted, map[string]any{"OrderID": int64(10), "RowVersion": int64(1)})
	customer := h.inst("Customer", entity.Deleted, map[string]any{"CustomerID": int64(1), "RowVersion": int64(3)})
	res, err = h.save(t, customer, order)
	require.NoError(t, err)
	assert.Equal(t, 0, h.store.Count("Customer"))
	require.Len(t, res.Entities, 2)
	assert.Equal(t, entity.Deleted, res.Entities[0].State)
}

func TestExecute_DeleteReferencedPrincipal(t *testing.T) {
	h := newHarness(t)

	_, err := h.save(t, h.inst("Customer", entity.Deleted, map[string]any{"CustomerID": int64(1), "RowVersion": int64(3)}))
	assert.ErrorIs(t, err, ormerrors.ErrReferentialIntegrityViolation)
	assert.Equal(t, 1, h.store.Count("Customer"))
}

func TestExecute_GuidKeyAndDateTimeStamp(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	h := newHarness(t, WithUUIDGenerator(func() uuid.UUID { return id }))
	temp := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	res, err := h.save(t, h.inst("Shipper", entity.Added, map[string]any{"ShipperID": temp, "CompanyName": "Speedy"}))
	require.NoError(t, err)

	require.Len(t, res.KeyMappings, 1)
	assert.Equal(t, entity.KeyMapping{EntityType: "Shipper", TempValue: temp, RealValue: id}, res.KeyMappings[0])

	row, ok := h.store.Get("Shipper", id)
	require.True(t, ok)
	assert.True(t, fixedNow.Equal(row["LastModified"].(time.Time)))
}

func TestExecute_GuidInsertFailureNamesSubmittedKey(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	h := newHarness(t, WithUUIDGenerator(func() uuid.UUID { return id }))
	require.NoError(t, h.store.Load("Shipper", store.Row{"ShipperID": id, "CompanyName": "Taken", "LastModified": fixedNow}))
	temp := uuid.MustParse("00000000-0000-0000-0000-000000000001")

	shipper := h.inst("Shipper", entity.Added, map[string]any{"ShipperID": temp, "CompanyName": "Speedy"})
	res, err := h.save(t, shipper)
	require.ErrorIs(t, err, ormerrors.ErrValidationFailed)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Shipper", res.Errors[0].EntityType)
	assert.Equal(t, []any{temp}, res.Errors[0].Key)
	assert.NotContains(t, res.Errors[0].Message, id.String())
	assert.Equal(t, temp, shipper.Get("ShipperID"), "submitted key restored")
	assert.Equal(t, 1, h.store.Count("Shipper"))
}

func TestExecute_CycleIsPatched(t *testing.T) {
	h := newHarness(t)
	boss := h.inst("Employee", entity.Added, map[string]any{
		"EmployeeID": int64(-1), "LastName": "Fuller", "FirstName": "Andrew", "ReportsToID": int64(-2),
	})
	report := h.inst("Employee", entity.Added, map[string]any{
		"EmployeeID": int64(-2), "LastName": "Davolio", "FirstName": "Nancy", "ReportsToID": int64(-1),
	})

	res, err := h.save(t, boss, report)
	require.NoError(t, err)
	require.Len(t, res.KeyMappings, 2)

	bossRow, _ := h.store.Get("Employee", boss.Get("EmployeeID"))
	reportRow, _ := h.store.Get("Employee", report.Get("EmployeeID"))
	assert.Equal(t, report.Get("EmployeeID"), bossRow["ReportsToID"])
	assert.Equal(t, boss.Get("EmployeeID"), reportRow["ReportsToID"])
}

func TestExecute_CancelledContext(t *testing.T) {
	h := newHarness(t)
	ops, err := bundle.NewResolver(h.reg).Resolve(entity.NewChangeSet(
		h.inst("Product", entity.Added, map[string]any{"ProductName": "Chai", "UnitPrice": "18", "Discontinued": false}),
	))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.executor.Execute(ctx, ops)
	assert.True(t, ormerrors.IsRetryable(err))
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "StoreUnavailable", res.Errors[0].Kind)
	assert.Equal(t, 0, h.store.Count("Product"))
}

func TestExecute_WrapsUnclassifiedStoreErrors(t *testing.T) {
	err := normalize(assert.AnError)
	assert.ErrorIs(t, err, ormerrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, assert.AnError)
}
