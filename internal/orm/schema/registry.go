package schema

import (
	"strings"
	"sync"

	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
)

// Registry holds every entity type exposed by the gateway.
//
// The registry is built once at startup through Register and then Seal.
// After Seal it is immutable, so concurrent reads take no locks.
type Registry struct {
	mu     sync.Mutex // serialises Register/Seal only
	sealed bool

	order []string
	types map[string]*EntityType

	foreignKeys map[string][]ForeignKey // dependent -> keys it holds
	referencing map[string][]ForeignKey // principal -> keys pointing at it
}

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]*EntityType),
	}
}

// Register adds or replaces an entity type definition.
// A replaced type keeps its original registration position.
func (r *Registry) Register(t *EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ormerrors.New(ormerrors.SchemaInconsistency, "registry is sealed, cannot register %s", t.Name)
	}
	if err := r.validateStructural(t); err != nil {
		return err
	}

	if _, exists := r.types[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.types[t.Name] = t
	return nil
}

// Seal validates cross-type references, indexes foreign keys and freezes the registry.
// Sealing twice is a no-op.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	for _, name := range r.order {
		if err := r.validateRelationships(r.types[name]); err != nil {
			return err
		}
	}

	r.foreignKeys, r.referencing = r.buildForeignKeys()
	r.sealed = true
	return nil
}

// Sealed returns true once Seal has succeeded
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Lookup returns the named entity type or an UnknownType error
func (r *Registry) Lookup(name string) (*EntityType, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, ormerrors.New(ormerrors.UnknownType, "entity type %q is not registered", name).ForEntity(name, nil)
	}
	return t, nil
}

// Has returns true if the named type is registered
func (r *Registry) Has(name string) bool {
	_, ok := r.types[name]
	return ok
}

// Types returns all entity types in registration order
func (r *Registry) Types() []*EntityType {
	result := make([]*EntityType, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.types[name])
	}
	return result
}

// Names returns all entity type names in registration order
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Count returns the number of registered types
func (r *Registry) Count() int {
	return len(r.order)
}

// ForeignKeysOf returns the foreign keys held by the named dependent type
func (r *Registry) ForeignKeysOf(name string) []ForeignKey {
	if r.sealed {
		return r.foreignKeys[name]
	}
	fks, _ := r.buildForeignKeys()
	return fks[name]
}

// ReferencesTo returns the foreign keys pointing at the named principal type
func (r *Registry) ReferencesTo(name string) []ForeignKey {
	if r.sealed {
		return r.referencing[name]
	}
	_, refs := r.buildForeignKeys()
	return refs[name]
}

// validateStructural checks a type in isolation and against already known targets
func (r *Registry) validateStructural(t *EntityType) error {
	inconsistent := func(format string, args ...any) error {
		return ormerrors.New(ormerrors.SchemaInconsistency, format, args...).ForEntity(t.Name, nil)
	}

	if t.Name == "" {
		return ormerrors.New(ormerrors.SchemaInconsistency, "entity type has no name")
	}

	seen := make(map[string]bool, len(t.Properties))
	for _, p := range t.Properties {
		if p.Name == "" {
			return inconsistent("property with empty name")
		}
		if seen[p.Name] {
			return inconsistent("duplicate property %s", p.Name)
		}
		seen[p.Name] = true
	}

	if len(t.Keys) == 0 {
		return inconsistent("no key property")
	}
	for _, k := range t.Keys {
		p := t.Property(k)
		if p == nil {
			return inconsistent("key property %s does not exist", k)
		}
		if p.Nullable {
			return inconsistent("key property %s is nullable", k)
		}
	}
	if t.KeyGeneration == Identity && len(t.Keys) != 1 {
		return inconsistent("identity key generation requires a single key property")
	}
	if t.KeyGeneration == Identity {
		if k := t.Property(t.Keys[0]); k.Kind != KindInteger && k.Kind != KindGUID {
			return inconsistent("identity key %s must be integer or guid", k.Name)
		}
	}

	if t.Concurrency != "" {
		p := t.Property(t.Concurrency)
		if p == nil {
			return inconsistent("concurrency property %s does not exist", t.Concurrency)
		}
		if t.IsKey(p.Name) {
			return inconsistent("concurrency property %s is a key", p.Name)
		}
	}

	navs := make(map[string]bool, len(t.Relationships))
	for _, rel := range t.Relationships {
		if rel.Name == "" || rel.Target == "" {
			return inconsistent("relationship needs a name and a target")
		}
		if navs[rel.Name] || seen[rel.Name] {
			return inconsistent("relationship %s collides with another member", rel.Name)
		}
		navs[rel.Name] = true
		if len(rel.ForeignKeys) == 0 {
			return inconsistent("relationship %s has no foreign key", rel.Name)
		}

		if rel.Cardinality == One {
			for _, fk := range rel.ForeignKeys {
				if t.Property(fk) == nil {
					return inconsistent("foreign key %s of %s does not exist", fk, rel.Name)
				}
			}
		}

		target, known := r.types[rel.Target]
		if rel.Target == t.Name {
			target, known = t, true
		}
		if known {
			if err := checkForeignKeyShape(t, rel, target); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateRelationships checks references to other types; all must be registered
func (r *Registry) validateRelationships(t *EntityType) error {
	for _, rel := range t.Relationships {
		target, ok := r.types[rel.Target]
		if !ok {
			return ormerrors.New(ormerrors.SchemaInconsistency,
				"relationship %s targets unknown type %s", rel.Name, rel.Target).ForEntity(t.Name, nil)
		}
		if err := checkForeignKeyShape(t, rel, target); err != nil {
			return err
		}
		if rel.Inverse != "" {
			inv := target.Relationship(rel.Inverse)
			if inv == nil || inv.Target != t.Name {
				return ormerrors.New(ormerrors.SchemaInconsistency,
					"inverse %s.%s of %s does not point back", rel.Target, rel.Inverse, rel.Name).ForEntity(t.Name, nil)
			}
		}
	}
	return nil
}

// checkForeignKeyShape verifies the dependent side holds one property per principal key
func checkForeignKeyShape(owner *EntityType, rel *Relationship, target *EntityType) error {
	dependent, principal := owner, target
	if rel.Cardinality == Many {
		dependent, principal = target, owner
	}

	if len(rel.ForeignKeys) != len(principal.Keys) {
		return ormerrors.New(ormerrors.SchemaInconsistency,
			"relationship %s has %d foreign keys, %s has %d keys",
			rel.Name, len(rel.ForeignKeys), principal.Name, len(principal.Keys)).ForEntity(owner.Name, nil)
	}
	for i, fk := range rel.ForeignKeys {
		p := dependent.Property(fk)
		if p == nil {
			return ormerrors.New(ormerrors.SchemaInconsistency,
				"foreign key %s of %s does not exist on %s", fk, rel.Name, dependent.Name).ForEntity(owner.Name, nil)
		}
		key := principal.Property(principal.Keys[i])
		if key != nil && key.Kind != p.Kind {
			return ormerrors.New(ormerrors.SchemaInconsistency,
				"foreign key %s is %s but %s.%s is %s", fk, p.Kind, principal.Name, key.Name, key.Kind).ForEntity(owner.Name, nil)
		}
	}
	return nil
}

// buildForeignKeys derives the deduplicated foreign key lists from all relationships
func (r *Registry) buildForeignKeys() (map[string][]ForeignKey, map[string][]ForeignKey) {
	byDependent := make(map[string][]ForeignKey)
	byPrincipal := make(map[string][]ForeignKey)
	seen := make(map[string]bool)

	for _, name := range r.order {
		t := r.types[name]
		for _, rel := range t.Relationships {
			dependent, principal := t.Name, rel.Target
			if rel.Cardinality == Many {
				dependent, principal = rel.Target, t.Name
			}
			id := dependent + "|" + principal + "|" + strings.Join(rel.ForeignKeys, ",")
			if seen[id] {
				continue
			}
			seen[id] = true

			fk := ForeignKey{
				Dependent:  dependent,
				Principal:  principal,
				Properties: rel.ForeignKeys,
				Nullable:   true,
				Navigation: rel.Name,
			}
			if dt, ok := r.types[dependent]; ok {
				for _, p := range rel.ForeignKeys {
					if prop := dt.Property(p); prop == nil || !prop.Nullable {
						fk.Nullable = false
					}
				}
			}
			byDependent[dependent] = append(byDependent[dependent], fk)
			byPrincipal[principal] = append(byPrincipal[principal], fk)
		}
	}
	return byDependent, byPrincipal
}
