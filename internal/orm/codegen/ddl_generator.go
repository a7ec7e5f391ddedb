package codegen

import (
	"fmt"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// DDLGenerator generates CREATE TABLE statements from entity types
type DDLGenerator struct {
	dialect     Dialect
	typeMapper  *TypeMapper
	constraints *ConstraintGenerator
	indexes     *IndexGenerator
}

// NewDDLGenerator creates a new DDL generator for the dialect
func NewDDLGenerator(dialect Dialect) *DDLGenerator {
	return &DDLGenerator{
		dialect:     dialect,
		typeMapper:  NewTypeMapper(dialect),
		constraints: NewConstraintGenerator(dialect),
		indexes:     NewIndexGenerator(),
	}
}

// Dialect returns the generator's dialect
func (g *DDLGenerator) Dialect() Dialect {
	return g.dialect
}

// GenerateCreateTable generates a CREATE TABLE statement for an entity type.
// SQLite has no ALTER TABLE ADD CONSTRAINT, so its foreign keys are inlined.
func (g *DDLGenerator) GenerateCreateTable(et *schema.EntityType, reg *schema.Registry) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", QuoteIdentifier(et.TableName()))

	var lines []string
	rowidKey := g.dialect == SQLite && isIntegerIdentity(et)
	for _, p := range et.Properties {
		col, err := g.generateColumnDefinition(et, p, rowidKey)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", et.Name, p.Name, err)
		}
		lines = append(lines, col)
	}

	if !rowidKey {
		lines = append(lines, fmt.Sprintf("  PRIMARY KEY (%s)", quoteColumns(et, et.Keys)))
	}

	if g.dialect == SQLite {
		clauses, err := g.constraints.ForeignKeyClauses(et, reg)
		if err != nil {
			return "", err
		}
		for _, c := range clauses {
			lines = append(lines, "  "+c)
		}
	}

	b.WriteString(strings.Join(lines, ",\n"))
	b.WriteString("\n);")
	return b.String(), nil
}

func (g *DDLGenerator) generateColumnDefinition(et *schema.EntityType, p *schema.Property, rowidKey bool) (string, error) {
	name := QuoteIdentifier(p.ColumnName())

	if rowidKey && et.IsKey(p.Name) {
		return fmt.Sprintf("  %s INTEGER PRIMARY KEY AUTOINCREMENT", name), nil
	}

	sqlType, err := g.typeMapper.MapType(p)
	if err != nil {
		return "", err
	}
	if g.dialect == Postgres && isIntegerIdentity(et) && et.IsKey(p.Name) {
		return fmt.Sprintf("  %s %s GENERATED BY DEFAULT AS IDENTITY", name, sqlType), nil
	}
	return fmt.Sprintf("  %s %s%s", name, sqlType, g.typeMapper.MapNullability(p)), nil
}

// GenerateSchema generates the complete DDL for every registered type, in
// registration order: tables, then foreign keys (Postgres), then indexes.
func (g *DDLGenerator) GenerateSchema(reg *schema.Registry) ([]string, error) {
	var stmts []string
	for _, et := range reg.Types() {
		create, err := g.GenerateCreateTable(et, reg)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, create)
	}

	if g.dialect == Postgres {
		for _, et := range reg.Types() {
			fks, err := g.constraints.GenerateForeignKeyConstraints(et, reg)
			if err != nil {
				return nil, err
			}
			stmts = append(stmts, fks...)
		}
	}

	for _, et := range reg.Types() {
		stmts = append(stmts, g.indexes.GenerateForeignKeyIndexes(et, reg)...)
	}
	return stmts, nil
}

// GenerateDropTable generates a DROP TABLE statement
func (g *DDLGenerator) GenerateDropTable(et *schema.EntityType) string {
	if g.dialect == SQLite {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s;", QuoteIdentifier(et.TableName()))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", QuoteIdentifier(et.TableName()))
}

// GenerateDropSchema drops every registered table, dependents first
func (g *DDLGenerator) GenerateDropSchema(reg *schema.Registry) []string {
	types := reg.Types()
	stmts := make([]string, 0, len(types))
	for i := len(types) - 1; i >= 0; i-- {
		stmts = append(stmts, g.GenerateDropTable(types[i]))
	}
	return stmts
}

func isIntegerIdentity(et *schema.EntityType) bool {
	if !et.HasGeneratedKey() {
		return false
	}
	keys := et.KeyProperties()
	return len(keys) == 1 && keys[0].Kind == schema.KindInteger
}
