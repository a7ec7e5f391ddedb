// Package entity holds the dynamically typed entity instances that flow
// through the gateway, the change set a client submits and the result of
// applying it.
package entity

import (
	"fmt"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// State is the pending operation of an instance
type State int

const (
	Unchanged State = iota
	Added
	Modified
	Deleted
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "unknown"
	}
}

// ParseState converts a string to a State; empty means Unchanged
func ParseState(s string) (State, error) {
	switch s {
	case "", "Unchanged":
		return Unchanged, nil
	case "Added":
		return Added, nil
	case "Modified":
		return Modified, nil
	case "Deleted":
		return Deleted, nil
	default:
		return 0, fmt.Errorf("unknown entity state: %s", s)
	}
}

// Instance is one entity: a property map tagged with its type and state.
// Identity is the pointer; two instances with equal values are distinct.
type Instance struct {
	Type   *schema.EntityType
	Values map[string]any
	// Original holds pre-modification values supplied by the client, including
	// the concurrency value last read
	Original map[string]any
	State    State
	// Links holds loaded navigations by relationship name; absent means not loaded
	Links map[string][]*Instance
}

// New creates an instance of the given type
func New(t *schema.EntityType, state State, values map[string]any) *Instance {
	if values == nil {
		values = make(map[string]any)
	}
	return &Instance{Type: t, Values: values, State: state}
}

// TypeName returns the entity type name
func (i *Instance) TypeName() string {
	if i.Type == nil {
		return ""
	}
	return i.Type.Name
}

// Get returns a property value
func (i *Instance) Get(name string) any {
	return i.Values[name]
}

// Set assigns a property value
func (i *Instance) Set(name string, v any) {
	if i.Values == nil {
		i.Values = make(map[string]any)
	}
	i.Values[name] = v
}

// Key returns the key values in key order
func (i *Instance) Key() []any {
	key := make([]any, len(i.Type.Keys))
	for n, k := range i.Type.Keys {
		key[n] = i.Values[k]
	}
	return key
}

// KeyString returns the key as a comparable string
func (i *Instance) KeyString() string {
	return schema.KeyString(i.Key())
}

// Tuple returns the named property values and whether all were non-nil
func (i *Instance) Tuple(names []string) ([]any, bool) {
	out := make([]any, len(names))
	complete := true
	for n, name := range names {
		out[n] = i.Values[name]
		if out[n] == nil {
			complete = false
		}
	}
	return out, complete
}

// ConcurrencyValue returns the concurrency value the client last read
func (i *Instance) ConcurrencyValue() (any, bool) {
	p := i.Type.ConcurrencyProperty()
	if p == nil {
		return nil, false
	}
	if v, ok := i.Original[p.Name]; ok && v != nil {
		return v, true
	}
	v, ok := i.Values[p.Name]
	return v, ok && v != nil
}

// Link loads a navigation, replacing any previous contents
func (i *Instance) Link(name string, related ...*Instance) {
	if i.Links == nil {
		i.Links = make(map[string][]*Instance)
	}
	i.Links[name] = append([]*Instance{}, related...)
}

// Loaded returns true if the navigation is loaded
func (i *Instance) Loaded(name string) bool {
	_, ok := i.Links[name]
	return ok
}

// Snapshot copies the scalar state without navigations
func (i *Instance) Snapshot() *Instance {
	values := make(map[string]any, len(i.Values))
	for k, v := range i.Values {
		values[k] = v
	}
	return &Instance{Type: i.Type, Values: values, State: i.State}
}

// String renders the type and key for logs
func (i *Instance) String() string {
	return fmt.Sprintf("%s%v", i.TypeName(), i.Key())
}

// ChangeSet is the batch of instances submitted in one save request
type ChangeSet struct {
	Entries []*Instance
}

// NewChangeSet collects every instance reachable from roots, each once, in
// pre-order with navigations walked in relationship declaration order
func NewChangeSet(roots ...*Instance) *ChangeSet {
	cs := &ChangeSet{}
	seen := make(map[*Instance]bool)
	var walk func(*Instance)
	walk = func(i *Instance) {
		if i == nil || seen[i] {
			return
		}
		seen[i] = true
		cs.Entries = append(cs.Entries, i)
		if i.Type == nil {
			return
		}
		for _, rel := range i.Type.Relationships {
			for _, related := range i.Links[rel.Name] {
				walk(related)
			}
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return cs
}

// Pending returns the entries that carry an operation
func (cs *ChangeSet) Pending() []*Instance {
	out := make([]*Instance, 0, len(cs.Entries))
	for _, e := range cs.Entries {
		if e.State != Unchanged {
			out = append(out, e)
		}
	}
	return out
}

// KeyMapping records a temporary key replaced by a store-assigned key
type KeyMapping struct {
	EntityType string `json:"entityType"`
	TempValue  any    `json:"tempValue"`
	RealValue  any    `json:"realValue"`
}

// EntityError identifies a failed entity in a save result
type EntityError struct {
	Kind       string `json:"error"`
	EntityType string `json:"entityType,omitempty"`
	Key        []any  `json:"key,omitempty"`
	Property   string `json:"property,omitempty"`
	Message    string `json:"message"`
}

// SaveResult is the outcome of applying a change set
type SaveResult struct {
	KeyMappings []KeyMapping
	Entities    []*Instance
	Errors      []EntityError
}

// Failed returns true if the save was rejected
func (r *SaveResult) Failed() bool {
	return len(r.Errors) > 0
}
