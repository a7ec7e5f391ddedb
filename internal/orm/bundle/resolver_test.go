package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema/schematest"
)

type fixture struct {
	reg      *schema.Registry
	resolver *Resolver
}

func newFixture() *fixture {
	reg := schematest.Northwind()
	return &fixture{reg: reg, resolver: NewResolver(reg)}
}

func (f *fixture) inst(typeName string, state entity.State, values map[string]any) *entity.Instance {
	return entity.New(schematest.MustLookup(f.reg, typeName), state, values)
}

func kinds(ops []Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Kind.String() + " " + op.Entity.TypeName()
	}
	return out
}

func TestResolve_PrincipalBeforeDependent(t *testing.T) {
	f := newFixture()
	order := f.inst("Order", entity.Added, map[string]any{"OrderID": int64(-1), "CustomerID": int64(-1)})
	customer := f.inst("Customer", entity.Added, map[string]any{"CustomerID": int64(-1), "CompanyName": "Alfreds"})

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{order, customer}})
	require.NoError(t, err)

	assert.Equal(t, []string{"insert Customer", "insert Order"}, kinds(ops))
	require.Len(t, ops[1].Dependencies, 1)
	assert.Same(t, customer, ops[1].Dependencies[0].Principal)
	assert.Equal(t, []string{"CustomerID"}, ops[1].Dependencies[0].Properties)
	assert.Equal(t, 0, ops[1].Index)
}

func TestResolve_NavigationDependency(t *testing.T) {
	f := newFixture()
	customer := f.inst("Customer", entity.Added, map[string]any{"CompanyName": "Alfreds"})
	order := f.inst("Order", entity.Added, map[string]any{"OrderID": int64(-5)})
	customer.Link("Orders", order)

	ops, err := f.resolver.Resolve(entity.NewChangeSet(order, customer))
	require.NoError(t, err)

	assert.Equal(t, []string{"insert Customer", "insert Order"}, kinds(ops))
	assert.Same(t, customer, ops[1].Dependencies[0].Principal)
}

func TestResolve_NavigationToExistingFillsForeignKey(t *testing.T) {
	f := newFixture()
	customer := f.inst("Customer", entity.Unchanged, map[string]any{"CustomerID": int64(42)})
	order := f.inst("Order", entity.Added, map[string]any{"OrderID": int64(-1)})
	order.Link("Customer", customer)

	ops, err := f.resolver.Resolve(entity.NewChangeSet(order))
	require.NoError(t, err)

	require.Len(t, ops, 1)
	assert.Empty(t, ops[0].Dependencies)
	assert.Equal(t, int64(42), order.Get("CustomerID"))
}

func TestResolve_TieBreakBySubmissionOrder(t *testing.T) {
	f := newFixture()
	p1 := f.inst("Product", entity.Added, map[string]any{"ProductName": "Chai", "UnitPrice": "18", "Discontinued": false})
	c := f.inst("Customer", entity.Added, map[string]any{"CustomerID": int64(-1), "CompanyName": "Alfreds"})
	p2 := f.inst("Product", entity.Added, map[string]any{"ProductName": "Chang", "UnitPrice": "19", "Discontinued": false})

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{p1, c, p2}})
	require.NoError(t, err)
	assert.Same(t, p1, ops[0].Entity)
	assert.Same(t, c, ops[1].Entity)
	assert.Same(t, p2, ops[2].Entity)
}

func TestResolve_UnresolvableCycle(t *testing.T) {
	f := newFixture()
	reg := schema.NewRegistry()
	for _, name := range []string{"A", "B"} {
		other := "B"
		if name == "B" {
			other = "A"
		}
		require.NoError(t, reg.Register(&schema.EntityType{
			Name: name,
			Keys: []string{"ID"},
			Properties: []*schema.Property{
				{Name: "ID", Kind: schema.KindInteger},
				{Name: "OtherID", Kind: schema.KindInteger},
			},
			Relationships: []*schema.Relationship{
				{Name: "Other", Target: other, Cardinality: schema.One, ForeignKeys: []string{"OtherID"}},
			},
		}))
	}
	require.NoError(t, reg.Seal())
	f.reg = reg
	f.resolver = NewResolver(reg)

	a := f.inst("A", entity.Added, map[string]any{"ID": int64(-1), "OtherID": int64(-2)})
	b := f.inst("B", entity.Added, map[string]any{"ID": int64(-2), "OtherID": int64(-1)})

	_, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{a, b}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ormerrors.ErrUnresolvableDependencyCycle)

	e, ok := ormerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, "A", e.EntityType)
}

func TestResolve_NullableCycleIsPatched(t *testing.T) {
	f := newFixture()
	boss := f.inst("Employee", entity.Added, map[string]any{
		"EmployeeID": int64(-1), "LastName": "Fuller", "FirstName": "Andrew", "ReportsToID": int64(-2),
	})
	report := f.inst("Employee", entity.Added, map[string]any{
		"EmployeeID": int64(-2), "LastName": "Davolio", "FirstName": "Nancy", "ReportsToID": int64(-1),
	})

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{boss, report}})
	require.NoError(t, err)

	assert.Equal(t, []string{"insert Employee", "insert Employee", "patch Employee"}, kinds(ops))
	assert.Same(t, boss, ops[0].Entity)
	require.Len(t, ops[0].Deferred, 1)
	assert.Same(t, report, ops[0].Deferred[0].Principal)

	assert.Same(t, report, ops[1].Entity)
	require.Len(t, ops[1].Dependencies, 1)
	assert.Same(t, boss, ops[1].Dependencies[0].Principal)

	assert.Same(t, boss, ops[2].Entity)
	assert.Equal(t, []string{"ReportsToID"}, ops[2].Dependencies[0].Properties)
}

func TestResolve_SelfReference(t *testing.T) {
	f := newFixture()
	emp := f.inst("Employee", entity.Added, map[string]any{
		"EmployeeID": int64(-1), "LastName": "Fuller", "FirstName": "Andrew", "ReportsToID": int64(-1),
	})

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{emp}})
	require.NoError(t, err)
	assert.Equal(t, []string{"insert Employee", "patch Employee"}, kinds(ops))
}

func TestResolve_Validation(t *testing.T) {
	tests := []struct {
		name     string
		entries  func(f *fixture) []*entity.Instance
		kind     ormerrors.Kind
		property string
	}{
		{
			name: "missing required on added",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{f.inst("Customer", entity.Added, map[string]any{"CustomerID": int64(-1)})}
			},
			kind:     ormerrors.ValidationFailed,
			property: "CompanyName",
		},
		{
			name: "null required on modified",
			entries: func(f *fixture) []*entity.Instance {
				c := f.inst("Customer", entity.Modified, map[string]any{"CustomerID": int64(1), "CompanyName": nil, "RowVersion": int64(1)})
				c.Original = map[string]any{"CompanyName": "Alfreds"}
				return []*entity.Instance{c}
			},
			kind:     ormerrors.ValidationFailed,
			property: "CompanyName",
		},
		{
			name: "missing key on deleted",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{f.inst("Product", entity.Deleted, nil)}
			},
			kind:     ormerrors.ValidationFailed,
			property: "ProductID",
		},
		{
			name: "missing concurrency value",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{f.inst("Customer", entity.Modified, map[string]any{"CustomerID": int64(1), "CompanyName": "Alfreds"})}
			},
			kind:     ormerrors.ValidationFailed,
			property: "RowVersion",
		},
		{
			name: "unknown property",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{f.inst("Product", entity.Added, map[string]any{"Color": "red"})}
			},
			kind:     ormerrors.ValidationFailed,
			property: "Color",
		},
		{
			name: "uncoercible value",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{f.inst("Product", entity.Added, map[string]any{"UnitPrice": "cheap"})}
			},
			kind:     ormerrors.ValidationFailed,
			property: "UnitPrice",
		},
		{
			name: "unknown type",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{entity.New(&schema.EntityType{Name: "Supplier", Keys: []string{"ID"}}, entity.Added, nil)}
			},
			kind: ormerrors.UnknownType,
		},
		{
			name: "duplicate entity",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{
					f.inst("Product", entity.Deleted, map[string]any{"ProductID": int64(1)}),
					f.inst("Product", entity.Deleted, map[string]any{"ProductID": int64(1)}),
				}
			},
			kind: ormerrors.ValidationFailed,
		},
		{
			name: "third of three added fails",
			entries: func(f *fixture) []*entity.Instance {
				return []*entity.Instance{
					f.inst("Product", entity.Added, map[string]any{"ProductName": "Chai", "UnitPrice": "18", "Discontinued": false}),
					f.inst("Product", entity.Added, map[string]any{"ProductName": "Chang", "UnitPrice": "19", "Discontinued": false}),
					f.inst("Product", entity.Added, map[string]any{"ProductName": "Aniseed", "Discontinued": false}),
				}
			},
			kind:     ormerrors.ValidationFailed,
			property: "UnitPrice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: tt.entries(f)})
			require.Error(t, err)
			assert.Nil(t, ops)
			assert.Equal(t, tt.kind, ormerrors.KindOf(err))
			if tt.property != "" {
				e, ok := ormerrors.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.property, e.Property)
			}
		})
	}
}

func TestResolve_OperationOrder(t *testing.T) {
	f := newFixture()
	update := f.inst("Customer", entity.Modified, map[string]any{"CustomerID": int64(2), "CompanyName": "Ana Trujillo", "RowVersion": int64(4)})
	update.Original = map[string]any{"CompanyName": "Ana"}
	deletedOrder := f.inst("Order", entity.Deleted, map[string]any{"OrderID": int64(10), "CustomerID": int64(3)})
	deletedCustomer := f.inst("Customer", entity.Deleted, map[string]any{"CustomerID": int64(3)})
	deletedDetail := f.inst("OrderDetail", entity.Deleted, map[string]any{"OrderID": int64(10), "ProductID": int64(1)})
	added := f.inst("Product", entity.Added, map[string]any{"ProductName": "Chai", "UnitPrice": "18", "Discontinued": false})
	unchanged := f.inst("Shipper", entity.Unchanged, nil)

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{
		deletedCustomer, update, deletedOrder, unchanged, added, deletedDetail,
	}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"insert Product",
		"update Customer",
		"delete OrderDetail",
		"delete Order",
		"delete Customer",
	}, kinds(ops))
}

func TestResolve_DeletesByKeyOnlyOrderedByType(t *testing.T) {
	f := newFixture()
	customer := f.inst("Customer", entity.Deleted, map[string]any{"CustomerID": int64(1), "RowVersion": int64(3)})
	detail := f.inst("OrderDetail", entity.Deleted, map[string]any{"OrderID": int64(10), "ProductID": int64(1)})
	order := f.inst("Order", entity.Deleted, map[string]any{"OrderID": int64(10), "RowVersion": int64(1)})
	boss := f.inst("Employee", entity.Deleted, map[string]any{"EmployeeID": int64(1)})
	other := f.inst("Employee", entity.Deleted, map[string]any{"EmployeeID": int64(2)})

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{customer, boss, order, other, detail}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"delete OrderDetail",
		"delete Order",
		"delete Customer",
		"delete Employee",
		"delete Employee",
	}, kinds(ops))
	assert.Same(t, boss, ops[3].Entity, "same-type deletes keep submission order")
	assert.Same(t, other, ops[4].Entity)
}

func TestResolve_ModifiedReferencingAdded(t *testing.T) {
	f := newFixture()
	customer := f.inst("Customer", entity.Added, map[string]any{"CustomerID": int64(-1), "CompanyName": "New"})
	order := f.inst("Order", entity.Modified, map[string]any{"OrderID": int64(10), "CustomerID": int64(-1), "RowVersion": int64(2)})
	order.Original = map[string]any{"CustomerID": int64(5)}

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{order, customer}})
	require.NoError(t, err)

	assert.Equal(t, []string{"insert Customer", "update Order"}, kinds(ops))
	require.Len(t, ops[1].Dependencies, 1)
	assert.Same(t, customer, ops[1].Dependencies[0].Principal)
}

func TestResolve_CompositeKeyFromAddedPrincipal(t *testing.T) {
	f := newFixture()
	order := f.inst("Order", entity.Added, map[string]any{"OrderID": int64(-1), "CustomerID": int64(7)})
	detail := f.inst("OrderDetail", entity.Added, map[string]any{"ProductID": int64(1), "Quantity": int64(3), "UnitPrice": "18"})
	order.Link("Details", detail)

	ops, err := f.resolver.Resolve(entity.NewChangeSet(order))
	require.NoError(t, err)
	assert.Equal(t, []string{"insert Order", "insert OrderDetail"}, kinds(ops))
	assert.Equal(t, []string{"OrderID"}, ops[1].Dependencies[0].Properties)
}

func TestResolve_DuplicateInstanceIgnored(t *testing.T) {
	f := newFixture()
	p := f.inst("Product", entity.Deleted, map[string]any{"ProductID": int64(1)})

	ops, err := f.resolver.Resolve(&entity.ChangeSet{Entries: []*entity.Instance{p, p}})
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}
