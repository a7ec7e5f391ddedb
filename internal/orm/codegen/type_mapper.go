// Package codegen generates relational DDL for a schema registry
package codegen

import (
	"fmt"
	"strings"

	"github.com/Seeker9889/northwind-core-ng-demo/internal/orm/schema"
)

// Dialect selects the SQL flavour of generated statements
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// ParseDialect maps a driver or dialect name to a Dialect
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", name)
	}
}

// TypeMapper maps scalar kinds to column types
type TypeMapper struct {
	dialect Dialect
}

// NewTypeMapper creates a new type mapper for the dialect
func NewTypeMapper(dialect Dialect) *TypeMapper {
	return &TypeMapper{dialect: dialect}
}

// MapType returns the column type for a property
func (tm *TypeMapper) MapType(p *schema.Property) (string, error) {
	if tm.dialect == SQLite {
		return tm.mapSQLite(p.Kind)
	}
	return tm.mapPostgres(p.Kind)
}

func (tm *TypeMapper) mapPostgres(kind schema.ScalarKind) (string, error) {
	switch kind {
	case schema.KindInteger:
		return "BIGINT", nil
	case schema.KindString:
		return "TEXT", nil
	case schema.KindDecimal:
		return "NUMERIC", nil
	case schema.KindBoolean:
		return "BOOLEAN", nil
	case schema.KindDateTime:
		return "TIMESTAMP WITH TIME ZONE", nil
	case schema.KindGUID:
		return "UUID", nil
	case schema.KindBinary:
		return "BYTEA", nil
	default:
		return "", fmt.Errorf("unsupported scalar kind: %s", kind)
	}
}

// Decimals are stored as text in SQLite so values round-trip exactly.
func (tm *TypeMapper) mapSQLite(kind schema.ScalarKind) (string, error) {
	switch kind {
	case schema.KindInteger:
		return "INTEGER", nil
	case schema.KindString, schema.KindDecimal, schema.KindGUID:
		return "TEXT", nil
	case schema.KindBoolean:
		return "BOOLEAN", nil
	case schema.KindDateTime:
		return "DATETIME", nil
	case schema.KindBinary:
		return "BLOB", nil
	default:
		return "", fmt.Errorf("unsupported scalar kind: %s", kind)
	}
}

// MapNullability returns the NOT NULL clause for non-nullable properties
func (tm *TypeMapper) MapNullability(p *schema.Property) string {
	if p.Nullable {
		return ""
	}
	return " NOT NULL"
}

// QuoteIdentifier wraps a SQL identifier in double quotes and escapes internal quotes
func QuoteIdentifier(identifier string) string {
	escaped := strings.ReplaceAll(identifier, `"`, `""`)
	return fmt.Sprintf(`"%s"`, escaped)
}

func quoteColumns(et *schema.EntityType, props []string) string {
	cols := make([]string, 0, len(props))
	for _, name := range props {
		if p := et.Property(name); p != nil {
			cols = append(cols, QuoteIdentifier(p.ColumnName()))
		}
	}
	return strings.Join(cols, ", ")
}
