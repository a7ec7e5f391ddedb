package bundle

import (
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// Resolver validates change sets and orders their operations
type Resolver struct {
	registry *schema.Registry
}

// NewResolver creates a resolver over a sealed registry
func NewResolver(registry *schema.Registry) *Resolver {
	return &Resolver{registry: registry}
}

type entry struct {
	inst  *entity.Instance
	index int
	deps  []*edge
}

// edge points from a dependent entry to the principal it must follow
type edge struct {
	dependent *entry
	principal *entry
	props     []string
	nullable  bool
	deferred  bool
}

// Resolve validates the change set and returns its operations in the order
// inserts, cycle patches, updates, deletes. No store is touched, so every
// failure is reported before anything is applied.
func (r *Resolver) Resolve(cs *entity.ChangeSet) ([]Operation, error) {
	entries, byInst, err := r.collect(cs)
	if err != nil {
		return nil, err
	}

	var added, modified, deleted []*entry
	for _, e := range entries {
		switch e.inst.State {
		case entity.Added:
			added = append(added, e)
		case entity.Modified:
			modified = append(modified, e)
		case entity.Deleted:
			deleted = append(deleted, e)
		}
	}

	r.linkDependencies(added, modified, byInst)
	for _, e := range entries {
		if err := r.validateRequired(e); err != nil {
			return nil, err
		}
	}

	inserts, patches, err := orderInserts(added)
	if err != nil {
		return nil, err
	}

	ops := make([]Operation, 0, len(inserts)+len(patches)+len(modified)+len(deleted))
	ops = append(ops, inserts...)
	ops = append(ops, patches...)
	for _, e := range modified {
		ops = append(ops, Operation{Kind: OpUpdate, Entity: e.inst, Index: e.index, Dependencies: dependencies(e, false)})
	}
	ops = append(ops, r.orderDeletes(deleted, byInst)...)
	return ops, nil
}

// collect normalises entries, dropping repeats of the same instance
func (r *Resolver) collect(cs *entity.ChangeSet) ([]*entry, map[*entity.Instance]*entry, error) {
	byInst := make(map[*entity.Instance]*entry)
	identities := make(map[string]bool)
	var entries []*entry

	for i, inst := range cs.Entries {
		if inst == nil {
			return nil, nil, ormerrors.New(ormerrors.ValidationFailed, "entry %d is null", i)
		}
		if _, dup := byInst[inst]; dup {
			continue
		}
		if inst.Type == nil {
			return nil, nil, ormerrors.New(ormerrors.ValidationFailed, "entry %d has no entity type", i)
		}
		if _, err := r.registry.Lookup(inst.Type.Name); err != nil {
			return nil, nil, err
		}
		if err := normalize(inst); err != nil {
			return nil, nil, err
		}

		e := &entry{inst: inst, index: i}
		byInst[inst] = e
		if inst.State == entity.Unchanged {
			continue
		}

		_, complete := inst.Tuple(inst.Type.Keys)
		if !complete && inst.State != entity.Added {
			return nil, nil, ormerrors.New(ormerrors.ValidationFailed, "key is required").
				ForEntity(inst.TypeName(), inst.Key()).ForProperty(missing(inst, inst.Type.Keys))
		}
		if complete {
			id := identity(inst.TypeName(), inst.Key())
			if identities[id] {
				return nil, nil, ormerrors.New(ormerrors.ValidationFailed, "entity is submitted more than once").
					ForEntity(inst.TypeName(), inst.Key())
			}
			identities[id] = true
		}
		entries = append(entries, e)
	}
	return entries, byInst, nil
}

// normalize rejects undeclared properties and coerces values to their kind
func normalize(inst *entity.Instance) error {
	for _, values := range []map[string]any{inst.Values, inst.Original} {
		for name, v := range values {
			p := inst.Type.Property(name)
			if p == nil {
				return ormerrors.New(ormerrors.ValidationFailed, "unknown property").
					ForEntity(inst.TypeName(), inst.Key()).ForProperty(name)
			}
			c, err := p.Kind.Coerce(v)
			if err != nil {
				return ormerrors.Wrap(ormerrors.ValidationFailed, err, "invalid value").
					ForEntity(inst.TypeName(), inst.Key()).ForProperty(name)
			}
			values[name] = c
		}
	}
	return nil
}

// linkDependencies adds an edge wherever an added or modified entity refers to
// an added one, either through a loaded navigation or through a foreign key
// value equal to the added entity's temporary key. Navigations to existing
// entities fill absent foreign keys directly.
func (r *Resolver) linkDependencies(added, modified []*entry, byInst map[*entity.Instance]*entry) {
	addedByKey := make(map[string]*entry)
	for _, e := range added {
		if _, complete := e.inst.Tuple(e.inst.Type.Keys); complete {
			addedByKey[identity(e.inst.TypeName(), e.inst.Key())] = e
		}
	}

	pending := append(append([]*entry{}, added...), modified...)
	for _, e := range pending {
		for _, rel := range e.inst.Type.Relationships {
			for _, linked := range e.inst.Links[rel.Name] {
				if rel.Cardinality == schema.One {
					link(byInst[e.inst], linked, byInst, rel.ForeignKeys)
				} else {
					link(byInst[linked], e.inst, byInst, rel.ForeignKeys)
				}
			}
		}
	}

	for _, e := range pending {
		for _, fk := range r.registry.ForeignKeysOf(e.inst.TypeName()) {
			tuple, complete := e.inst.Tuple(fk.Properties)
			if !complete {
				continue
			}
			if p, ok := addedByKey[identity(fk.Principal, tuple)]; ok {
				addEdge(e, p, fk.Properties)
			}
		}
	}
}

func link(d *entry, principal *entity.Instance, byInst map[*entity.Instance]*entry, props []string) {
	if d == nil || (d.inst.State != entity.Added && d.inst.State != entity.Modified) {
		return
	}
	if p, ok := byInst[principal]; ok && p.inst.State == entity.Added {
		addEdge(d, p, props)
		return
	}
	if principal.State == entity.Deleted {
		return
	}
	key, complete := principal.Tuple(principal.Type.Keys)
	if !complete || len(key) != len(props) {
		return
	}
	if _, present := d.inst.Tuple(props); !present {
		for i, prop := range props {
			if d.inst.Values[prop] == nil {
				d.inst.Set(prop, key[i])
			}
		}
	}
}

func addEdge(d, p *entry, props []string) {
	for _, existing := range d.deps {
		if existing.principal == p && strings.Join(existing.props, ",") == strings.Join(props, ",") {
			return
		}
	}
	nullable := true
	for _, name := range props {
		if prop := d.inst.Type.Property(name); prop == nil || !prop.Nullable {
			nullable = false
		}
	}
	d.deps = append(d.deps, &edge{dependent: d, principal: p, props: props, nullable: nullable})
}

// validateRequired checks non-nullable properties once dependencies are known,
// since a foreign key filled from an added principal may be absent on submit
func (r *Resolver) validateRequired(e *entry) error {
	inst := e.inst
	t := inst.Type
	if inst.State != entity.Added && inst.State != entity.Modified {
		return nil
	}

	covered := make(map[string]bool)
	for _, d := range e.deps {
		for _, p := range d.props {
			covered[p] = true
		}
	}

	for _, p := range t.Properties {
		if p.Nullable || covered[p.Name] || p.Name == t.Concurrency {
			continue
		}
		if t.IsKey(p.Name) && (inst.State == entity.Modified || t.HasGeneratedKey()) {
			// Generated keys are assigned on insert; modified keys were checked on collect.
			continue
		}
		v, present := inst.Values[p.Name]
		if inst.State == entity.Modified && len(inst.Original) > 0 && !present {
			continue
		}
		if v == nil {
			return ormerrors.New(ormerrors.ValidationFailed, "required property is missing").
				ForEntity(t.Name, inst.Key()).ForProperty(p.Name)
		}
	}

	if inst.State == entity.Modified && t.ConcurrencyProperty() != nil {
		if _, ok := inst.ConcurrencyValue(); !ok {
			return ormerrors.New(ormerrors.ValidationFailed, "concurrency value is required").
				ForEntity(t.Name, inst.Key()).ForProperty(t.Concurrency)
		}
	}
	return nil
}

// orderInserts sorts added entries so principals precede dependents, taking
// the lowest submission index among ready entries. When no entry is ready a
// nullable edge on a cycle is deferred to a patch.
func orderInserts(added []*entry) ([]Operation, []Operation, error) {
	remaining := make(map[*entry]bool, len(added))
	for _, e := range added {
		remaining[e] = true
	}

	inserts := make([]Operation, 0, len(added))
	for len(remaining) > 0 {
		next := firstReady(added, remaining)
		if next == nil {
			if err := breakCycle(added, remaining); err != nil {
				return nil, nil, err
			}
			continue
		}
		delete(remaining, next)
		inserts = append(inserts, Operation{
			Kind:         OpInsert,
			Entity:       next.inst,
			Index:        next.index,
			Dependencies: dependencies(next, false),
			Deferred:     dependencies(next, true),
		})
	}

	var patches []Operation
	for _, op := range inserts {
		if len(op.Deferred) > 0 {
			patches = append(patches, Operation{Kind: OpPatch, Entity: op.Entity, Index: op.Index, Dependencies: op.Deferred})
		}
	}
	sortByIndex(patches)
	return inserts, patches, nil
}

func firstReady(added []*entry, remaining map[*entry]bool) *entry {
	for _, e := range added {
		if !remaining[e] {
			continue
		}
		ready := true
		for _, d := range e.deps {
			if !d.deferred && remaining[d.principal] {
				ready = false
				break
			}
		}
		if ready {
			return e
		}
	}
	return nil
}

func breakCycle(added []*entry, remaining map[*entry]bool) error {
	for _, e := range added {
		if !remaining[e] {
			continue
		}
		for _, d := range e.deps {
			if d.nullable && !d.deferred && remaining[d.principal] && reaches(d.principal, e, remaining) {
				d.deferred = true
				return nil
			}
		}
	}

	for _, e := range added {
		if !remaining[e] {
			continue
		}
		for _, d := range e.deps {
			if !d.deferred && remaining[d.principal] && reaches(d.principal, e, remaining) {
				return ormerrors.New(ormerrors.UnresolvableDependencyCycle,
					"added entities reference each other through non-nullable foreign keys; supply a permanent key for one of them").
					ForEntity(e.inst.TypeName(), e.inst.Key())
			}
		}
	}
	return ormerrors.New(ormerrors.UnresolvableDependencyCycle, "cannot order added entities")
}

// reaches reports whether to is reachable from from along active edges
func reaches(from, to *entry, remaining map[*entry]bool) bool {
	visited := make(map[*entry]bool)
	stack := []*entry{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, d := range cur.deps {
			if !d.deferred && remaining[d.principal] {
				stack = append(stack, d.principal)
			}
		}
	}
	return false
}

// orderDeletes puts dependents before the principals they reference
func (r *Resolver) orderDeletes(deleted []*entry, byInst map[*entity.Instance]*entry) []Operation {
	byKey := make(map[string]*entry, len(deleted))
	for _, e := range deleted {
		byKey[identity(e.inst.TypeName(), e.inst.Key())] = e
	}

	// dependents[p] lists the deleted entries that reference p
	dependents := make(map[*entry][]*entry)
	add := func(d, p *entry) {
		if d == nil || p == nil || d == p || d.inst.State != entity.Deleted || p.inst.State != entity.Deleted {
			return
		}
		dependents[p] = append(dependents[p], d)
	}
	for _, e := range deleted {
		for _, fk := range r.registry.ForeignKeysOf(e.inst.TypeName()) {
			if tuple, complete := e.inst.Tuple(fk.Properties); complete {
				add(e, byKey[identity(fk.Principal, tuple)])
				continue
			}
			// Deleted by key alone: any deleted principal of the
			// referenced type may still be referenced by this row.
			if fk.Principal == fk.Dependent {
				continue
			}
			for _, p := range deleted {
				if p.inst.TypeName() == fk.Principal {
					add(e, p)
				}
			}
		}
		for _, rel := range e.inst.Type.Relationships {
			for _, linked := range e.inst.Links[rel.Name] {
				if rel.Cardinality == schema.One {
					add(e, byInst[linked])
				} else {
					add(byInst[linked], e)
				}
			}
		}
	}

	remaining := make(map[*entry]bool, len(deleted))
	for _, e := range deleted {
		remaining[e] = true
	}
	ops := make([]Operation, 0, len(deleted))
	for len(remaining) > 0 {
		var next *entry
		for _, e := range deleted {
			if !remaining[e] {
				continue
			}
			blocked := false
			for _, d := range dependents[e] {
				if remaining[d] {
					blocked = true
					break
				}
			}
			if !blocked {
				next = e
				break
			}
		}
		if next == nil {
			// A delete cycle is left to the store; take submission order.
			for _, e := range deleted {
				if remaining[e] {
					next = e
					break
				}
			}
		}
		delete(remaining, next)
		ops = append(ops, Operation{Kind: OpDelete, Entity: next.inst, Index: next.index})
	}
	return ops
}

func dependencies(e *entry, deferred bool) []Dependency {
	var out []Dependency
	for _, d := range e.deps {
		if d.deferred == deferred {
			out = append(out, Dependency{Principal: d.principal.inst, Properties: d.props})
		}
	}
	return out
}

func sortByIndex(ops []Operation) {
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && ops[j].Index < ops[j-1].Index; j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}
}

func identity(typeName string, key []any) string {
	return typeName + "|" + schema.KeyString(key)
}

func missing(inst *entity.Instance, names []string) string {
	for _, n := range names {
		if inst.Values[n] == nil {
			return n
		}
	}
	return ""
}
