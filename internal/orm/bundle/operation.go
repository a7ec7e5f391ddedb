// Package bundle resolves a submitted change set into the ordered list of
// store operations that applies it without violating referential integrity.
package bundle

import (
	"fmt"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/entity"
)

// OpKind is the store operation an Operation performs
type OpKind int

const (
	// OpInsert inserts an Added entity
	OpInsert OpKind = iota
	// OpPatch sets foreign keys that were written null to break a dependency cycle
	OpPatch
	// OpUpdate updates a Modified entity
	OpUpdate
	// OpDelete deletes a Deleted entity
	OpDelete
)

// String returns the string representation of the op kind
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpPatch:
		return "patch"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Dependency says the entity's foreign key properties take their values from
// Principal's key once Principal has been inserted
type Dependency struct {
	Principal  *entity.Instance
	Properties []string
}

// Operation is one resolved step of a save
type Operation struct {
	Kind   OpKind
	Entity *entity.Instance
	// Index is the entry's position in the submitted change set
	Index int
	// Dependencies are copied from their principals before the operation runs
	Dependencies []Dependency
	// Deferred foreign keys are written null on insert and set by a later OpPatch
	Deferred []Dependency
}

// String renders the operation for logs
func (op Operation) String() string {
	return fmt.Sprintf("%s %s", op.Kind, op.Entity)
}
