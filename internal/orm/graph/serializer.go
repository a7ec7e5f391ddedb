package graph

import (
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
	ormerrors "github.com/Seeker9889/northwind-core-ng-demo/internal/orm/errors"
	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// Encode converts root instances into a node tree.
// Identity is tracked by pointer, so field-equal instances stay distinct.
// Navigations that are not loaded are omitted.
func Encode(roots []*entity.Instance) []*Node {
	e := &encoder{tokens: make(map[*entity.Instance]int)}
	nodes := make([]*Node, 0, len(roots))
	for _, r := range roots {
		nodes = append(nodes, e.encode(r))
	}
	return nodes
}

type encoder struct {
	tokens map[*entity.Instance]int
	next   int
}

func (e *encoder) encode(inst *entity.Instance) *Node {
	if token, seen := e.tokens[inst]; seen {
		return &Node{Ref: token}
	}

	// Mark before recursing so a cycle back to inst becomes a reference.
	e.next++
	token := e.next
	e.tokens[inst] = token

	n := &Node{
		ID:       token,
		Type:     inst.TypeName(),
		Values:   scalarValues(inst.Type, inst.Values),
		Original: scalarValues(inst.Type, inst.Original),
		order:    propertyNames(inst.Type),
	}
	if inst.State != entity.Unchanged {
		n.State = inst.State.String()
	}

	for _, rel := range inst.Type.Relationships {
		related, loaded := inst.Links[rel.Name]
		if !loaded {
			continue
		}
		link := Link{Name: rel.Name, Nodes: make([]*Node, 0, len(related))}
		for _, r := range related {
			link.Nodes = append(link.Nodes, e.encode(r))
		}
		n.Links = append(n.Links, link)
	}
	return n
}

func propertyNames(t *schema.EntityType) []string {
	names := make([]string, len(t.Properties))
	for i, p := range t.Properties {
		names[i] = p.Name
	}
	return names
}

// scalarValues keeps only declared properties
func scalarValues(t *schema.EntityType, values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for _, p := range t.Properties {
		if v, ok := values[p.Name]; ok {
			out[p.Name] = v
		}
	}
	return out
}

// Decoder rebuilds entity graphs from node trees
type Decoder struct {
	registry *schema.Registry
}

// NewDecoder creates a decoder resolving type tags against the registry
func NewDecoder(registry *schema.Registry) *Decoder {
	return &Decoder{registry: registry}
}

// Decode rebuilds the graph in a single pass. A reference to a token whose
// defining node has not been seen yet fails with DanglingReference.
func (d *Decoder) Decode(nodes []*Node) ([]*entity.Instance, error) {
	p := &decodePass{registry: d.registry, table: make(map[int]*entity.Instance)}
	roots := make([]*entity.Instance, 0, len(nodes))
	for _, n := range nodes {
		inst, err := p.decode(n)
		if err != nil {
			return nil, err
		}
		roots = append(roots, inst)
	}
	return roots, nil
}

type decodePass struct {
	registry *schema.Registry
	table    map[int]*entity.Instance
}

func (p *decodePass) decode(n *Node) (*entity.Instance, error) {
	if n == nil {
		return nil, ormerrors.New(ormerrors.ValidationFailed, "null node in graph")
	}

	if n.Ref != 0 {
		if n.ID != 0 || n.Type != "" || len(n.Values) > 0 || len(n.Links) > 0 {
			return nil, ormerrors.New(ormerrors.ValidationFailed, "reference node %d carries a body", n.Ref)
		}
		inst, ok := p.table[n.Ref]
		if !ok {
			return nil, ormerrors.New(ormerrors.DanglingReference, "token %d is referenced before it is defined", n.Ref)
		}
		return inst, nil
	}

	if n.ID == 0 {
		return nil, ormerrors.New(ormerrors.ValidationFailed, "node has neither $id nor $ref")
	}
	if _, dup := p.table[n.ID]; dup {
		return nil, ormerrors.New(ormerrors.ValidationFailed, "token %d is defined twice", n.ID)
	}

	t, err := p.registry.Lookup(n.Type)
	if err != nil {
		return nil, err
	}
	state, err := entity.ParseState(n.State)
	if err != nil {
		return nil, ormerrors.Wrap(ormerrors.ValidationFailed, err, "node %d", n.ID).ForEntity(t.Name, nil)
	}
	values, err := coerceValues(t, n.Values)
	if err != nil {
		return nil, err
	}
	original, err := coerceValues(t, n.Original)
	if err != nil {
		return nil, err
	}

	inst := &entity.Instance{Type: t, Values: values, Original: original, State: state}
	if inst.Values == nil {
		inst.Values = make(map[string]any)
	}
	p.table[n.ID] = inst

	for _, link := range n.Links {
		rel := t.Relationship(link.Name)
		if rel == nil {
			return nil, ormerrors.New(ormerrors.ValidationFailed, "unknown navigation").
				ForEntity(t.Name, inst.Key()).ForProperty(link.Name)
		}
		if rel.Cardinality == schema.One && len(link.Nodes) > 1 {
			return nil, ormerrors.New(ormerrors.ValidationFailed, "reference navigation holds %d entities", len(link.Nodes)).
				ForEntity(t.Name, inst.Key()).ForProperty(link.Name)
		}

		related := make([]*entity.Instance, 0, len(link.Nodes))
		for _, c := range link.Nodes {
			child, err := p.decode(c)
			if err != nil {
				return nil, err
			}
			if child.Type.Name != rel.Target {
				return nil, ormerrors.New(ormerrors.ValidationFailed, "navigation expects %s, got %s", rel.Target, child.Type.Name).
					ForEntity(t.Name, inst.Key()).ForProperty(link.Name)
			}
			related = append(related, child)
		}
		inst.Link(rel.Name, related...)
	}
	return inst, nil
}

func coerceValues(t *schema.EntityType, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	values := make(map[string]any, len(raw))
	for name, v := range raw {
		prop := t.Property(name)
		if prop == nil {
			return nil, ormerrors.New(ormerrors.ValidationFailed, "unknown property").ForEntity(t.Name, nil).ForProperty(name)
		}
		c, err := prop.Kind.Coerce(v)
		if err != nil {
			return nil, ormerrors.Wrap(ormerrors.ValidationFailed, err, "invalid value").ForEntity(t.Name, nil).ForProperty(name)
		}
		values[name] = c
	}
	return values, nil
}
