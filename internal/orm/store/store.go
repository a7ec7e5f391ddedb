// Package store defines the relational collaborator the gateway persists
// through: filtered reads plus a transactional insert/update/delete surface.
//
// Rows are keyed by property name; adapters map properties to columns.
package store

import (
	"context"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/transaction"
)

// Row maps property names to scalar values
type Row map[string]any

// Clone returns a shallow copy of the row
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Tuple returns the values of the named properties in order
func (r Row) Tuple(names []string) []any {
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = r[n]
	}
	return out
}

// Predicate matches rows whose property equals any of Values
type Predicate struct {
	Property string
	Values   []any
}

// Order sorts by one property
type Order struct {
	Property   string
	Descending bool
}

// Query filters and pages a read of one entity type
type Query struct {
	Where   []Predicate
	OrderBy []Order
	// Limit of zero means unbounded
	Limit  int
	Offset int
}

// Guard restricts an update or delete to rows whose concurrency value still matches
type Guard struct {
	Property string
	Value    any
}

// Store is the relational data source
type Store interface {
	// Query returns the rows of et matching q. Rows are ordered by q.OrderBy,
	// then by key, so paging is stable.
	Query(ctx context.Context, et *schema.EntityType, q Query) ([]Row, error)
	Begin(ctx context.Context, opts transaction.Options) (Tx, error)
	Close() error
}

// Tx is a store transaction
type Tx interface {
	transaction.Tx
	// Insert writes a row. For an integer identity key the store assigns the
	// key and returns it; otherwise generatedKey is nil.
	Insert(ctx context.Context, et *schema.EntityType, row Row) (generatedKey any, err error)
	Update(ctx context.Context, et *schema.EntityType, key Row, set Row, guard *Guard) (rowsAffected int64, err error)
	Delete(ctx context.Context, et *schema.EntityType, key Row, guard *Guard) (rowsAffected int64, err error)
}

// GeneratesKey returns true if the store assigns et's key on insert.
// GUID identity keys are assigned by the gateway before insert.
func GeneratesKey(et *schema.EntityType) bool {
	if !et.HasGeneratedKey() {
		return false
	}
	return et.KeyProperties()[0].Kind == schema.KindInteger
}

// Normalize checks every property the query names and coerces predicate values
func (q Query) Normalize(et *schema.EntityType) (Query, error) {
	out := Query{OrderBy: q.OrderBy, Limit: q.Limit, Offset: q.Offset}
	if q.Limit < 0 || q.Offset < 0 {
		return Query{}, ormerrors.New(ormerrors.ValidationFailed, "limit and offset must not be negative").ForEntity(et.Name, nil)
	}

	for _, p := range q.Where {
		prop := et.Property(p.Property)
		if prop == nil {
			return Query{}, ormerrors.New(ormerrors.ValidationFailed, "unknown filter property").
				ForEntity(et.Name, nil).ForProperty(p.Property)
		}
		values := make([]any, 0, len(p.Values))
		for _, v := range p.Values {
			c, err := prop.Kind.Coerce(v)
			if err != nil {
				return Query{}, ormerrors.Wrap(ormerrors.ValidationFailed, err, "invalid filter value").
					ForEntity(et.Name, nil).ForProperty(p.Property)
			}
			values = append(values, c)
		}
		out.Where = append(out.Where, Predicate{Property: p.Property, Values: values})
	}

	for _, o := range q.OrderBy {
		if et.Property(o.Property) == nil {
			return Query{}, ormerrors.New(ormerrors.ValidationFailed, "unknown order property").
				ForEntity(et.Name, nil).ForProperty(o.Property)
		}
	}
	return out, nil
}

// KeyRow extracts the key properties of a row
func KeyRow(et *schema.EntityType, values map[string]any) Row {
	key := make(Row, len(et.Keys))
	for _, k := range et.Keys {
		key[k] = values[k]
	}
	return key
}
