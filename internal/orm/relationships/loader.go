package relationships

import (
	"context"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/store"
)

// EagerLoad loads the navigations named by includes ("Orders",
// "Orders.Details") for instances of et. Every expanded navigation is marked
// loaded, empty or not. Instances already tracked by ids are reused.
func (l *Loader) EagerLoad(
	ctx context.Context,
	instances []*entity.Instance,
	et *schema.EntityType,
	includes []string,
	ids *IdentityMap,
) error {
	if ids == nil {
		ids = NewIdentityMap()
	}
	return l.load(ctx, instances, et, includes, ids, 0)
}

func (l *Loader) load(
	ctx context.Context,
	instances []*entity.Instance,
	et *schema.EntityType,
	includes []string,
	ids *IdentityMap,
	depth int,
) error {
	if len(instances) == 0 || len(includes) == 0 {
		return nil
	}
	if depth >= l.maxDepth {
		return errMaxDepthExceeded(l.maxDepth)
	}

	// Group "a.b" and "a.c" so each navigation is queried once per level
	var order []string
	nested := make(map[string][]string)
	for _, include := range includes {
		relation, rest := parseInclude(include)
		if et.Relationship(relation) == nil {
			return errUnknownRelationship(et.Name, relation)
		}
		if _, ok := nested[relation]; !ok {
			order = append(order, relation)
			nested[relation] = nil
		}
		if rest != "" {
			nested[relation] = append(nested[relation], rest)
		}
	}

	for _, relation := range order {
		rel := et.Relationship(relation)
		target, err := l.registry.Lookup(rel.Target)
		if err != nil {
			return err
		}

		var related []*entity.Instance
		if rel.Cardinality == schema.One {
			related, err = l.loadReference(ctx, instances, rel, target, ids)
		} else {
			related, err = l.loadCollection(ctx, instances, et, rel, target, ids)
		}
		if err != nil {
			return err
		}

		if err := l.load(ctx, related, target, nested[relation], ids, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// loadReference loads a navigation whose foreign keys live on the instances
func (l *Loader) loadReference(
	ctx context.Context,
	instances []*entity.Instance,
	rel *schema.Relationship,
	target *schema.EntityType,
	ids *IdentityMap,
) ([]*entity.Instance, error) {
	tuples := make([][]any, 0, len(instances))
	for _, inst := range instances {
		if tuple, complete := inst.Tuple(rel.ForeignKeys); complete {
			tuples = append(tuples, tuple)
		}
	}

	byKey, related, err := l.fetch(ctx, target, target.Keys, tuples, ids)
	if err != nil {
		return nil, err
	}

	for _, inst := range instances {
		tuple, complete := inst.Tuple(rel.ForeignKeys)
		if matches := byKey[schema.KeyString(tuple)]; complete && len(matches) > 0 {
			inst.Link(rel.Name, matches[0])
		} else {
			inst.Link(rel.Name)
		}
	}
	return related, nil
}

// loadCollection loads a navigation whose foreign keys live on the target
func (l *Loader) loadCollection(
	ctx context.Context,
	instances []*entity.Instance,
	et *schema.EntityType,
	rel *schema.Relationship,
	target *schema.EntityType,
	ids *IdentityMap,
) ([]*entity.Instance, error) {
	tuples := make([][]any, 0, len(instances))
	for _, inst := range instances {
		if tuple, complete := inst.Tuple(et.Keys); complete {
			tuples = append(tuples, tuple)
		}
	}

	byKey, related, err := l.fetch(ctx, target, rel.ForeignKeys, tuples, ids)
	if err != nil {
		return nil, err
	}

	for _, inst := range instances {
		inst.Link(rel.Name, byKey[inst.KeyString()]...)
	}
	return related, nil
}

// fetch queries target rows whose columns match one of the tuples and groups
// the materialized instances by that column tuple
func (l *Loader) fetch(
	ctx context.Context,
	target *schema.EntityType,
	columns []string,
	tuples [][]any,
	ids *IdentityMap,
) (map[string][]*entity.Instance, []*entity.Instance, error) {
	byKey := make(map[string][]*entity.Instance)
	if len(tuples) == 0 {
		return byKey, nil, nil
	}

	wanted := make(map[string]bool, len(tuples))
	q := store.Query{Where: make([]store.Predicate, len(columns))}
	seen := make([]map[string]bool, len(columns))
	for i, col := range columns {
		q.Where[i] = store.Predicate{Property: col}
		seen[i] = make(map[string]bool)
	}
	for _, tuple := range tuples {
		wanted[schema.KeyString(tuple)] = true
		for i, v := range tuple {
			k := schema.KeyString([]any{v})
			if !seen[i][k] {
				seen[i][k] = true
				q.Where[i].Values = append(q.Where[i].Values, v)
			}
		}
	}

	rows, err := l.store.Query(ctx, target, q)
	if err != nil {
		return nil, nil, err
	}

	var related []*entity.Instance
	added := make(map[*entity.Instance]bool)
	for _, row := range rows {
		// Per-column IN over-selects for composite tuples
		k := schema.KeyString(row.Tuple(columns))
		if !wanted[k] {
			continue
		}
		inst := ids.Materialize(target, row)
		byKey[k] = append(byKey[k], inst)
		if !added[inst] {
			added[inst] = true
			related = append(related, inst)
		}
	}
	return byKey, related, nil
}

// parseInclude splits "a.b.c" into "a" and "b.c"
func parseInclude(include string) (string, string) {
	head, rest, _ := strings.Cut(include, ".")
	return head, rest
}
