// Package relationships loads navigations of queried entities in batches,
// one store query per navigation per level.
package relationships

import (
	"context"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
)

// DefaultMaxDepth bounds nested expansion paths
const DefaultMaxDepth = 10

// Querier is the read side of the store
type Querier interface {
	Query(ctx context.Context, et *schema.EntityType, q store.Query) ([]store.Row, error)
}

// Loader expands navigations for a set of instances
type Loader struct {
	store    Querier
	registry *schema.Registry
	maxDepth int
}

// NewLoader creates a new relationship loader
func NewLoader(s Querier, registry *schema.Registry) *Loader {
	return &Loader{store: s, registry: registry, maxDepth: DefaultMaxDepth}
}

// WithMaxDepth returns a copy of the loader with a different depth bound
func (l *Loader) WithMaxDepth(depth int) *Loader {
	cp := *l
	cp.maxDepth = depth
	return &cp
}

// IdentityMap keeps one instance per entity type and key within a query, so
// an entity reached through several paths is shared rather than duplicated
type IdentityMap struct {
	byType map[string]map[string]*entity.Instance
}

// NewIdentityMap creates an empty identity map
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{byType: make(map[string]map[string]*entity.Instance)}
}

// Materialize returns the tracked instance for the row's key, creating an
// Unchanged instance on first sight
func (m *IdentityMap) Materialize(et *schema.EntityType, row store.Row) *entity.Instance {
	key := schema.KeyString(row.Tuple(et.Keys))
	if inst, ok := m.byType[et.Name][key]; ok {
		return inst
	}
	inst := entity.New(et, entity.Unchanged, map[string]any(row.Clone()))
	if m.byType[et.Name] == nil {
		m.byType[et.Name] = make(map[string]*entity.Instance)
	}
	m.byType[et.Name][key] = inst
	return inst
}

// Len returns the number of tracked instances
func (m *IdentityMap) Len() int {
	n := 0
	for _, byKey := range m.byType {
		n += len(byKey)
	}
	return n
}
