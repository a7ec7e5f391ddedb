// Package tracking computes which properties of a modified entity changed,
// so updates only write the columns the client actually touched.
package tracking

import (
	"bytes"
	"reflect"
	"time"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
)

// FieldChange represents a change to a single property
type FieldChange struct {
	Field    string
	OldValue any
	NewValue any
}

// ChangeTracker tracks property changes on one instance in schema order
type ChangeTracker struct {
	changes []FieldChange
	index   map[string]int
	partial bool
}

// NewChangeTracker computes the changes of a modified instance.
//
// When the client supplied original values only those properties are
// candidates, and a property counts as changed when its current value differs.
// Without originals every non-key scalar present on the instance is treated as
// changed. The concurrency property is never reported; its stamp is managed by
// the executor.
func NewChangeTracker(inst *entity.Instance) *ChangeTracker {
	ct := &ChangeTracker{
		index:   make(map[string]int),
		partial: len(inst.Original) > 0,
	}

	for _, p := range inst.Type.Properties {
		if inst.Type.IsKey(p.Name) || p.Name == inst.Type.Concurrency {
			continue
		}
		newValue, present := inst.Values[p.Name]
		if !present {
			continue
		}

		if ct.partial {
			oldValue, tracked := inst.Original[p.Name]
			if !tracked || deepEqual(oldValue, newValue) {
				continue
			}
			ct.add(FieldChange{Field: p.Name, OldValue: oldValue, NewValue: newValue})
			continue
		}
		ct.add(FieldChange{Field: p.Name, NewValue: newValue})
	}
	return ct
}

func (ct *ChangeTracker) add(c FieldChange) {
	ct.index[c.Field] = len(ct.changes)
	ct.changes = append(ct.changes, c)
}

// Partial returns true if the change set was derived from client originals
func (ct *ChangeTracker) Partial() bool {
	return ct.partial
}

// Changed returns true if the specified property has changed
func (ct *ChangeTracker) Changed(field string) bool {
	_, ok := ct.index[field]
	return ok
}

// ChangedFields returns the changed properties in schema order
func (ct *ChangeTracker) ChangedFields() []string {
	fields := make([]string, len(ct.changes))
	for i, c := range ct.changes {
		fields[i] = c.Field
	}
	return fields
}

// GetChange returns the FieldChange for a specific property, or nil if unchanged
func (ct *ChangeTracker) GetChange(field string) *FieldChange {
	i, ok := ct.index[field]
	if !ok {
		return nil
	}
	c := ct.changes[i]
	return &c
}

// HasChanges returns true if any property has changed
func (ct *ChangeTracker) HasChanges() bool {
	return len(ct.changes) > 0
}

// GetChangedData returns only the changed properties with their new values
func (ct *ChangeTracker) GetChangedData() map[string]any {
	result := make(map[string]any, len(ct.changes))
	for _, c := range ct.changes {
		result[c.Field] = c.NewValue
	}
	return result
}

// deepEqual compares two scalar values, handling nil, bytes and times
func deepEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return reflect.DeepEqual(a, b)
}
