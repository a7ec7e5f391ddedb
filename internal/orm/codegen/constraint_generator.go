package codegen

import (
	"fmt"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// ConstraintGenerator generates foreign key constraints
type ConstraintGenerator struct {
	dialect Dialect
}

// NewConstraintGenerator creates a new constraint generator
func NewConstraintGenerator(dialect Dialect) *ConstraintGenerator {
	return &ConstraintGenerator{dialect: dialect}
}

type foreignKeyParts struct {
	name       string
	columns    string
	principal  string
	references string
}

func (g *ConstraintGenerator) foreignKeys(et *schema.EntityType, reg *schema.Registry) ([]foreignKeyParts, error) {
	var parts []foreignKeyParts
	for _, fk := range reg.ForeignKeysOf(et.Name) {
		principal, err := reg.Lookup(fk.Principal)
		if err != nil {
			return nil, fmt.Errorf("foreign key %s.%s: %w", et.Name, fk.Navigation, err)
		}
		if len(fk.Properties) != len(principal.Keys) {
			return nil, fmt.Errorf("foreign key %s.%s does not match the key of %s", et.Name, fk.Navigation, principal.Name)
		}

		cols := make([]string, len(fk.Properties))
		for i, name := range fk.Properties {
			cols[i] = et.Property(name).ColumnName()
		}
		parts = append(parts, foreignKeyParts{
			name:       fmt.Sprintf("%s_%s_fkey", et.TableName(), strings.Join(cols, "_")),
			columns:    quoteColumns(et, fk.Properties),
			principal:  QuoteIdentifier(principal.TableName()),
			references: quoteColumns(principal, principal.Keys),
		})
	}
	return parts, nil
}

// GenerateForeignKeyConstraints generates ALTER TABLE statements for the
// foreign keys declared on et, in relationship order.
func (g *ConstraintGenerator) GenerateForeignKeyConstraints(et *schema.EntityType, reg *schema.Registry) ([]string, error) {
	fks, err := g.foreignKeys(et, reg)
	if err != nil {
		return nil, err
	}
	stmts := make([]string, 0, len(fks))
	for _, fk := range fks {
		stmts = append(stmts, fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s);",
			QuoteIdentifier(et.TableName()),
			QuoteIdentifier(fk.name),
			fk.columns,
			fk.principal,
			fk.references,
		))
	}
	return stmts, nil
}

// ForeignKeyClauses generates inline table constraints for et's foreign keys
func (g *ConstraintGenerator) ForeignKeyClauses(et *schema.EntityType, reg *schema.Registry) ([]string, error) {
	fks, err := g.foreignKeys(et, reg)
	if err != nil {
		return nil, err
	}
	clauses := make([]string, 0, len(fks))
	for _, fk := range fks {
		clauses = append(clauses, fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
			QuoteIdentifier(fk.name), fk.columns, fk.principal, fk.references))
	}
	return clauses, nil
}
